package transfer

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestTrackOptionsRegisterFlags(t *testing.T) {
	var opts TrackOptions
	fs := pflag.NewFlagSet("track", pflag.ContinueOnError)
	opts.RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"--fail-fast", "--dry-run"}))
	require.True(t, opts.FailFast)
	require.True(t, opts.DryRun)
}

func TestCheckoutOptionsRegisterFlags(t *testing.T) {
	var opts CheckoutOptions
	fs := pflag.NewFlagSet("checkout", pflag.ContinueOnError)
	opts.RegisterFlags(fs)

	require.NoError(t, fs.Parse(nil))
	require.False(t, opts.FailFast)
	require.False(t, opts.DryRun)
}
