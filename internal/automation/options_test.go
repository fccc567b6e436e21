package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ibeckermayer/instaflow/internal/config"
)

func TestOptionsFromDefaultConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Account.Username = "alice"
	cfg.Account.Password = "secret"

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, "alice", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "tshirt", opts.SearchText)
	assert.Equal(t, 3, opts.PostCount)
	assert.Equal(t, DefaultTimeouts(), opts.Timeouts)
}
