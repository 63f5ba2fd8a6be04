package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func Test_NewWithLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    string
		wantErr string
	}{
		{name: "default level", give: ""},
		{name: "debug level", give: "debug"},
		{name: "warn level", give: "warn"},
		{name: "invalid level", give: "loud", wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lggr, err := NewWithLevel(tt.give)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)

				return
			}
			require.NoError(t, err)
			assert.NotNil(t, lggr)
		})
	}
}

func Test_NamedAndWith(t *testing.T) {
	t.Parallel()

	lggr, logs := TestObserved(t, zapcore.InfoLevel)

	child := lggr.Named("poller").With("tx", "0xabc")
	child.Infow("receipt found", "block", 10)
	child.Debug("filtered out")

	assert.Equal(t, "poller", child.Name())

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "receipt found", entries[0].Message)
	assert.Equal(t, "poller", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	assert.Equal(t, "0xabc", fields["tx"])
	assert.EqualValues(t, 10, fields["block"])
}

func Test_Nop(t *testing.T) {
	t.Parallel()

	lggr := Nop()
	lggr.Errorw("ignored", "k", "v")
	assert.Empty(t, lggr.Name())
}
