package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/stone-age-io/svcmon/internal/agent"
	"github.com/stone-age-io/svcmon/internal/config"
)

// monitor defers to the agent, which can only be built once the service
// host exists and its system logger is available.
type monitor struct {
	agent *agent.Agent
}

func (m *monitor) Start(s service.Service) error {
	if m.agent == nil {
		return errors.New("monitor not initialized")
	}
	return m.agent.Start(s)
}

func (m *monitor) Stop(s service.Service) error {
	if m.agent == nil {
		return nil
	}
	return m.agent.Stop(s)
}

// serviceConfig describes the installed service. The config path is made
// absolute so the service manager starts the binary with the same file.
func serviceConfig(configPath string) (*service.Config, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return &service.Config{
		Name:        config.ServiceName,
		DisplayName: "Service Monitor",
		Description: "Records host services and keeps them in their expected state.",
		Arguments:   []string{"--config", abs},
	}, nil
}

func newService(i service.Interface) (service.Service, error) {
	svcCfg, err := serviceConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	s, err := service.New(i, svcCfg)
	if err != nil {
		return nil, fmt.Errorf("svcmon: %w", err)
	}
	return s, nil
}

// runMonitor loads the configuration and hosts the agent until the service
// manager or a console signal stops it.
func runMonitor(cmd *cobra.Command, _ []string) error {
	m := &monitor{}
	s, err := newService(m)
	if err != nil {
		return err
	}

	system, err := s.Logger(nil)
	if err != nil {
		return fmt.Errorf("svcmon: open system logger: %w", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		_ = system.Error(err.Error())
		return err
	}

	a, err := agent.New(cfg, agent.Options{
		Version: buildVersion,
		System:  system,
		Stdout:  service.Interactive(),
	})
	if err != nil {
		_ = system.Error(err.Error())
		return err
	}
	m.agent = a

	return s.Run()
}

// control sends action to the installed service.
func control(cmd *cobra.Command, action, done string) error {
	s, err := newService(&monitor{})
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("svcmon %s: %w", action, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), done)
	return nil
}
