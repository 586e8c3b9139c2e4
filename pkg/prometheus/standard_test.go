package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, Register(registry))
	assert.NoError(t, Register(registry))
}
