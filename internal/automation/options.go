package automation

import "github.com/ibeckermayer/instaflow/internal/config"

// OptionsFromConfig maps the loaded configuration onto sequence options.
func OptionsFromConfig(cfg *config.Config) Options {
	t := cfg.Timeouts
	return Options{
		Username:       cfg.Account.Username,
		Password:       cfg.Account.Password,
		SearchText:     cfg.Search.Text,
		PostCount:      cfg.Search.PostCount,
		Comment:        cfg.Search.Comment,
		PreloadScrolls: cfg.Feed.PreloadScrolls,
		Timeouts: Timeouts{
			Default:         t.Default.Duration,
			CookieConsent:   t.CookieConsent.Duration,
			Landmark:        t.Landmark.Duration,
			SaveInfo:        t.SaveInfo.Duration,
			LoginRequest:    t.LoginRequest.Duration,
			DialogClose:     t.DialogClose.Duration,
			LoaderAppear:    t.LoaderAppear.Duration,
			LoaderDisappear: t.LoaderDisappear.Duration,
			ScrollSettle:    t.ScrollSettle.Duration,
		},
	}
}
