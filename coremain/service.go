package coremain

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

var svcCfg = &service.Config{
	Name:        "edgecache",
	DisplayName: "edgecache",
	Description: "An offline-first caching gateway.",
}

var svc service.Service

// running is the gateway instance currently serving, nil otherwise. The
// service wrapper uses it to deliver a stop request.
var (
	runningMu sync.Mutex
	running   *Gateway
)

func setRunning(g *Gateway) {
	runningMu.Lock()
	running = g
	runningMu.Unlock()
}

func stopRunning() {
	runningMu.Lock()
	g := running
	runningMu.Unlock()
	if g != nil {
		g.sc.SendCloseSignal(nil)
	}
}

type serverService struct {
	f *serverFlags

	errChan chan error
}

func (ss *serverService) Start(s service.Service) error {
	ss.errChan = make(chan error, 1)
	go func() {
		ss.errChan <- StartServer(ss.f)
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	stopRunning()
	if ss.errChan != nil {
		return <-ss.errChan
	}
	return nil
}

func initService(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the executable path, %w", err)
	}
	svcCfg.Arguments = []string{"start", "--as-service", "-d", filepath.Dir(execPath)}

	svc, err = service.New(&serverService{f: new(serverFlags)}, svcCfg)
	if err != nil {
		return fmt.Errorf("failed to init service, %w", err)
	}
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install edgecache as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Install(); err != nil {
				return fmt.Errorf("failed to install service, %w", err)
			}
			cmd.Println("service installed")
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall the edgecache service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Uninstall(); err != nil {
				return fmt.Errorf("failed to uninstall service, %w", err)
			}
			cmd.Println("service uninstalled")
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the edgecache service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Start(); err != nil {
				return fmt.Errorf("failed to start service, %w", err)
			}
			cmd.Println("service started")
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the edgecache service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Stop(); err != nil {
				return fmt.Errorf("failed to stop service, %w", err)
			}
			cmd.Println("service stopped")
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the edgecache service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Restart(); err != nil {
				return fmt.Errorf("failed to restart service, %w", err)
			}
			cmd.Println("service restarted")
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the edgecache service status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := svc.Status()
			if err != nil {
				return fmt.Errorf("failed to query service status, %w", err)
			}
			switch status {
			case service.StatusRunning:
				cmd.Println("running")
			case service.StatusStopped:
				cmd.Println("stopped")
			default:
				cmd.Println("unknown")
			}
			return nil
		},
		SilenceUsage: true,
	}
}
