package json

import (
	stdjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalNumber(t *testing.T) {
	input := []byte(`{"job_id":18446744073709551615,"name":"clean"}`)

	var lossy map[string]interface{}
	require.NoError(t, Unmarshal(input, &lossy))
	assert.IsType(t, float64(0), lossy["job_id"])

	var exact map[string]interface{}
	require.NoError(t, UnmarshalNumber(input, &exact))
	assert.Equal(t, stdjson.Number("18446744073709551615"), exact["job_id"])
	assert.Equal(t, "clean", exact["name"])

	assert.Error(t, UnmarshalNumber([]byte(`{`), &exact))
}
