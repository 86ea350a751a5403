// Command medisched is a development console for the client core: it
// exercises verification, sessions, appointments, push registration and
// the calendar connection against a running backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/medisched/medisched-client/accounts"
	"github.com/medisched/medisched-client/apiclient"
	"github.com/medisched/medisched-client/appointments"
	"github.com/medisched/medisched-client/calendar"
	"github.com/medisched/medisched-client/credstore"
	"github.com/medisched/medisched-client/internal/config"
	"github.com/medisched/medisched-client/push"
	"github.com/medisched/medisched-client/verify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	app := &cli.App{
		Name:  "medisched",
		Usage: "development console for the MediSched client core",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "HCL config overlay file"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			verifyCommand(),
			registerCommand(),
			sessionCommand(),
			appointmentsCommand(),
			pushCommand(),
			calendarCommand(),
			probeCommand(),
		},
	}
	return app.Run(args)
}

type console struct {
	cfg   config.Config
	log   zerolog.Logger
	store credstore.Store
	api   *apiclient.Client
}

func newConsole(c *cli.Context) (*console, error) {
	cfg := config.New()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	level := zerolog.InfoLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.GetDataFolder(), 0o700); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}
	store, err := credstore.NewSecureFileStore(
		filepath.Join(cfg.GetDataFolder(), "credentials.sealed"),
		cfg.GetDeviceSecret(),
	)
	if err != nil {
		return nil, err
	}

	api := apiclient.New(cfg, store, apiclient.WithLogger(log))
	if err := api.SyncAuthHeader(); err != nil {
		return nil, err
	}
	return &console{cfg: cfg, log: log, store: store, api: api}, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify a mobile number and establish a session",
		ArgsUsage: "<mobile>",
		Action: func(c *cli.Context) error {
			console, err := newConsole(c)
			if err != nil {
				return err
			}
			displayAppname(console.cfg.GetAppName())

			service := verify.NewService(console.api, console.store, console.log)
			result, err := service.Verify(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			switch result.Outcome {
			case verify.OutcomeAuthenticated:
				fmt.Printf("Authenticated as %s (%s)\n", result.Session.FullName, result.Session.Role)
			case verify.OutcomeRoleRequired:
				fmt.Println("Account exists; register with a role to continue")
			case verify.OutcomeNotRegistered:
				fmt.Println("No account for this number; register first")
			}
			return nil
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account",
		Subcommands: []*cli.Command{
			{
				Name:      "patient",
				ArgsUsage: "<mobile> <full name>",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					service := accounts.NewService(console.api, console.store, console.log)
					session, err := service.RegisterPatient(c.Context, accounts.RegisterPatientRequest{
						Mobile:   c.Args().Get(0),
						FullName: c.Args().Get(1),
					})
					if err != nil {
						return err
					}
					fmt.Printf("Registered %s as %s\n", session.FullName, session.Role)
					return nil
				},
			},
			{
				Name:      "doctor",
				ArgsUsage: "<mobile> <full name> <speciality> <registration no>",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					service := accounts.NewService(console.api, console.store, console.log)
					session, err := service.RegisterDoctor(c.Context, accounts.RegisterDoctorRequest{
						Mobile:         c.Args().Get(0),
						FullName:       c.Args().Get(1),
						Speciality:     c.Args().Get(2),
						RegistrationNo: c.Args().Get(3),
					})
					if err != nil {
						return err
					}
					fmt.Printf("Registered %s as %s\n", session.FullName, session.Role)
					return nil
				},
			},
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "inspect or clear the stored session",
		Subcommands: []*cli.Command{
			{
				Name: "show",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					session, err := credstore.LoadSession(console.store)
					if err != nil {
						return err
					}
					if session == nil {
						fmt.Println("No session")
						return nil
					}
					fmt.Printf("User:   %s (%s)\nRole:   %s\nMobile: %s\n",
						session.FullName, session.UserID, session.Role, session.Mobile)
					if claims, err := credstore.ParseTokenClaims(session.AccessToken); err == nil {
						fmt.Printf("Token expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
					}
					return nil
				},
			},
			{
				Name: "logout",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					service := accounts.NewService(console.api, console.store, console.log)
					if err := service.Logout(c.Context); err != nil {
						return err
					}
					fmt.Println("Logged out")
					return nil
				},
			},
		},
	}
}

func appointmentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "appointments",
		Usage: "list appointments",
		Action: func(c *cli.Context) error {
			console, err := newConsole(c)
			if err != nil {
				return err
			}
			service := appointments.NewService(console.api, console.log)
			list, err := service.List(c.Context)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No appointments")
				return nil
			}
			for _, a := range list {
				fmt.Printf("%s  %s %s  %-10s %s\n", a.ID, a.Date, a.Slot, a.Status, a.DoctorName)
			}
			return nil
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "exercise push registration and dispatch",
		Subcommands: []*cli.Command{
			{
				Name: "register",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					registrar, err := newRegistrar(console)
					if err != nil {
						return err
					}
					if _, err := registrar.GetOrRegisterToken(c.Context); err != nil {
						return err
					}
					result, err := registrar.RegisterWithBackend(c.Context)
					if err != nil {
						return err
					}
					if result.Warning != "" {
						fmt.Printf("Registered with warning: %s\n", result.Warning)
						return nil
					}
					fmt.Println("Registered with notifications backend")
					return nil
				},
			},
			{
				Name:      "send",
				ArgsUsage: "<title> <body>",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					registrar, err := newRegistrar(console)
					if err != nil {
						return err
					}
					result, err := registrar.SendSimple(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					if result.IsDevelopment {
						fmt.Println("Simulated locally (development token)")
						time.Sleep(3 * time.Second)
						return nil
					}
					fmt.Println("Sent through backend")
					return nil
				},
			},
		},
	}
}

// newRegistrar wires the registrar for a development host: no real push
// service, so tokens are synthesized and delivery is simulated.
func newRegistrar(console *console) (*push.Registrar, error) {
	printer := func(n push.Notification) {
		fmt.Printf("\n[notification] %s: %s\n", n.Title, n.Body)
	}
	return push.NewRegistrar(console.cfg, push.Deps{
		API:         console.api,
		Store:       console.store,
		Env:         push.StaticEnvironment{Physical: true, Constrained: true},
		Permissions: grantedPermissions{},
		Tokens:      noTokenSource{},
		Local:       &push.HandlerScheduler{Handler: printer},
	}, push.WithLogger(console.log))
}

type grantedPermissions struct{}

func (grantedPermissions) Status(context.Context) (push.PermissionStatus, error) {
	return push.PermissionGranted, nil
}

func (grantedPermissions) Request(context.Context) (push.PermissionStatus, error) {
	return push.PermissionGranted, nil
}

func (grantedPermissions) OpenSettings() error { return nil }

type noTokenSource struct{}

func (noTokenSource) Token(context.Context, string) (string, error) {
	return "", errors.New("no push service on this host")
}

func calendarCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendar",
		Usage: "manage the calendar connection",
		Subcommands: []*cli.Command{
			{
				Name: "connect",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					connector := calendar.NewConnector(console.cfg, console.api, console.store,
						systemBrowser{}, calendar.WithLogger(console.log))

					listener := calendar.NewCallbackListener(connector, console.cfg.GetLoopbackAddr())
					addr, err := listener.Start()
					if err != nil {
						return err
					}
					defer func() {
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = listener.Shutdown(ctx)
					}()
					fmt.Printf("Waiting for provider redirect on http://%s/callback\n", addr)

					if err := connector.Connect(c.Context); err != nil {
						return err
					}
					fmt.Println("Calendar connected")
					return nil
				},
			},
			{
				Name: "status",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					connector := calendar.NewConnector(console.cfg, console.api, console.store,
						systemBrowser{}, calendar.WithLogger(console.log))
					if !connector.IsConnected() {
						fmt.Println("Not connected")
						return nil
					}
					if err := connector.TestConnection(c.Context); err != nil {
						return err
					}
					fmt.Println("Connected and healthy")
					return nil
				},
			},
			{
				Name: "disconnect",
				Action: func(c *cli.Context) error {
					console, err := newConsole(c)
					if err != nil {
						return err
					}
					connector := calendar.NewConnector(console.cfg, console.api, console.store,
						systemBrowser{}, calendar.WithLogger(console.log))
					if err := connector.Disconnect(); err != nil {
						return err
					}
					fmt.Println("Disconnected")
					return nil
				},
			},
		},
	}
}

type systemBrowser struct{}

func (systemBrowser) Open(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "probe optional feature backends",
		Action: func(c *cli.Context) error {
			console, err := newConsole(c)
			if err != nil {
				return err
			}
			fmt.Printf("Base URL: %s\n", console.api.BaseURL())
			for _, path := range []string{"/api/calendar/health", "/api/notifications/health"} {
				if err := console.api.ProbeHealth(c.Context, path); err != nil {
					fmt.Printf("%-30s unavailable (%s)\n", path, err)
					continue
				}
				fmt.Printf("%-30s ok\n", path)
			}
			return nil
		},
	}
}
