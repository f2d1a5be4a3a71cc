package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/NicolasHaas/zyeachat/pkg/crypto"
	"github.com/NicolasHaas/zyeachat/pkg/deeplink"
	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/tokenstore"
	"github.com/NicolasHaas/zyeachat/pkg/updates"
	"github.com/NicolasHaas/zyeachat/pkg/version"
)

var openCommand = &cli.Command{
	Name:      "open",
	Usage:     "Apply a deep link: switch account and/or open a chat",
	ArgsUsage: "LINK",
	Action:    cmdOpen,
}

var whoamiCommand = &cli.Command{
	Name:   "whoami",
	Usage:  "Show the user the stored token belongs to",
	Action: cmdWhoami,
}

var loginCommand = &cli.Command{
	Name:      "login",
	Usage:     "Store a token and verify it against the backend",
	ArgsUsage: "TOKEN",
	Action:    cmdLogin,
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Sign out and clear the stored token",
	Action: cmdLogout,
}

var linkCommand = &cli.Command{
	Name:  "link",
	Usage: "Build a deep link",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "token", Usage: "Token to hand off"},
		&cli.StringFlag{Name: "partner", Usage: "Partner user id"},
		&cli.StringFlag{Name: "conversation", Usage: "Conversation id"},
		&cli.StringFlag{Name: "name", Usage: "Partner display name"},
		&cli.StringFlag{Name: "avatar", Usage: "Partner avatar URL"},
	},
	Action: cmdLink,
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "Manage the config file",
	Subcommands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "Write the effective config to the config path",
			Action: cmdConfigInit,
		},
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Show version and release notes",
	Action: func(ctx *cli.Context) error {
		fmt.Println(version.Full())
		if e, ok := updates.Builtin.Find(version.String()); ok {
			printEntry(e)
		} else if e, ok := updates.Builtin.Latest(); ok && version.IsDev() {
			printEntry(e)
		}
		return nil
	},
}

func printEntry(e updates.Entry) {
	fmt.Printf("\n%s (%s) %s\n", e.Version, e.Date, e.Title)
	for _, c := range e.Changes {
		fmt.Printf("  - %s\n", c)
	}
}

func cmdOpen(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowSubcommandHelp(ctx)
	}
	e, err := newEngine(getConfig(ctx))
	if err != nil {
		return err
	}
	defer e.Close()

	e.Ready().MarkReady()
	if _, err := e.Resolve(ctx.Context); err != nil && !errors.Is(err, model.ErrUnauthorized) {
		return err
	}
	if err := e.HandleDeepLink(ctx.Context, ctx.Args().First()); err != nil {
		return err
	}
	printSession(e.Session())
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	store, err := tokenstore.Open(cfg.TokenStore)
	if err != nil {
		return err
	}
	defer store.Close()

	token, err := store.Load(ctx.Context)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("you are not logged in, run 'zyeachat login' first")
	}
	user, err := newAPIClient(cfg).Me(ctx.Context, token)
	if err != nil {
		return err
	}
	printSession(&model.Session{User: *user, Token: token})
	return nil
}

func cmdLogin(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowSubcommandHelp(ctx)
	}
	e, err := newEngine(getConfig(ctx))
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := e.SetToken(ctx.Context, ctx.Args().First())
	if err != nil {
		return err
	}
	printSession(s)
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	e, err := newEngine(getConfig(ctx))
	if err != nil {
		return err
	}
	defer e.Close()

	if _, err := e.Resolve(ctx.Context); err != nil && !errors.Is(err, model.ErrUnauthorized) {
		return err
	}
	if e.Session() == nil {
		fmt.Println("Not logged in")
		return nil
	}
	if err := e.Logout(ctx.Context); err != nil {
		// local state is cleared regardless
		fmt.Printf("Warning: %v\n", err)
	}
	fmt.Println("Logged out")
	return nil
}

func cmdLink(ctx *cli.Context) error {
	link := deeplink.Link{Token: ctx.String("token")}
	target := model.ChatTarget{
		PartnerID:      ctx.String("partner"),
		ConversationID: ctx.String("conversation"),
		UserName:       ctx.String("name"),
		Avatar:         ctx.String("avatar"),
	}
	if target.Validate() == nil {
		link.Target = &target
	}
	if !link.HasToken() && link.Target == nil {
		return fmt.Errorf("need --token or --partner/--conversation")
	}
	fmt.Println(deeplink.Build(getConfig(ctx).DeepLinkScheme, link))
	return nil
}

func cmdConfigInit(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	if err := cfg.Save(ctx.String("config")); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (device %s)\n", ctx.String("config"), cfg.DeviceID)
	return nil
}

func printSession(s *model.Session) {
	if s == nil {
		fmt.Println("Not logged in")
		return
	}
	fmt.Printf("User ID: %s\n", s.UserID())
	fmt.Printf("Name:    %s\n", s.User.DisplayName())
	if s.User.Email != "" {
		fmt.Printf("Email:   %s\n", s.User.Email)
	}
	fmt.Printf("Token:   %s\n", crypto.Fingerprint(s.Token))
}
