// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// loginCommand runs an interactive QR login.
func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in by scanning a QR code (qq, wx or mobile)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "QR login type: qq, wx or mobile",
				Value:   "qq",
			},
			&cli.StringFlag{
				Name:  "qr-dir",
				Usage: "Directory the QR image is written to (default: login.qr_dir)",
			},
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Open the QR image with the system viewer",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the result as JSON",
			},
		},
		Action: r.Login,
	}
}

// phoneCommand handles SMS code login.
func phoneCommand(r *Runner) *cli.Command {
	phoneFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:     "phone",
				Aliases:  []string{"p"},
				Usage:    "Phone number without country prefix",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "country",
				Usage: "Country calling code",
				Value: 86,
			},
		}
	}

	return &cli.Command{
		Name:  "phone",
		Usage: "Sign in with an SMS authorization code",
		Commands: []*cli.Command{
			{
				Name:   "send",
				Usage:  "Send an authorization code to the phone",
				Flags:  phoneFlags(),
				Action: r.PhoneSend,
			},
			{
				Name:  "verify",
				Usage: "Exchange the received code for a credential",
				Flags: append(phoneFlags(), &cli.StringFlag{
					Name:     "code",
					Usage:    "Authorization code from the SMS",
					Required: true,
				}),
				Action: r.PhoneVerify,
			},
		},
	}
}

// authCommand manages the stored credential.
func authCommand(r *Runner) *cli.Command {
	musicID := func() cli.Flag {
		return &cli.Int64Flag{
			Name:  "musicid",
			Usage: "Credential to use (default: most recently updated)",
		}
	}

	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the stored credential",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Check whether the stored credential is still accepted",
				Flags: []cli.Flag{
					musicID(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:  "list",
				Usage: "List stored credentials without contacting the service",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthList,
			},
			{
				Name:   "refresh",
				Usage:  "Renew the stored credential if it has expired",
				Flags:  []cli.Flag{musicID()},
				Action: r.AuthRefresh,
			},
			{
				Name:   "logout",
				Usage:  "Delete the stored credential",
				Flags:  []cli.Flag{musicID()},
				Action: r.AuthLogout,
			},
			{
				Name:  "history",
				Usage: "List recent login attempts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "provider",
						Usage: "Only show attempts for this login type",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of attempts to show",
						Value: 20,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text or csv",
						Value:   "text",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write CSV to this file instead of stdout",
					},
				},
				Action: r.AuthHistory,
			},
		},
	}
}

// serveCommand starts the HTTP login server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve QR login and credential status over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default: server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (default: server.port)",
			},
		},
		Action: r.Serve,
	}
}
