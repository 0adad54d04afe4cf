package nats

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledPublisher(t *testing.T) {
	p, err := Connect("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.NoError(t, p.Publish(SubjectPaymentValidated, map[string]string{"hash": "H"}))
	p.Close()
}
