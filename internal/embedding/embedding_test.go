package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i] * b[i])
	}
	return dot
}

func TestMockClient_DeterministicUnitVectors(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	v1, err := m.Embed(ctx, "sleep consolidates memory")
	require.NoError(t, err)
	v2, err := m.Embed(ctx, "Sleep consolidates memory")
	require.NoError(t, err)
	require.Len(t, v1, Dimensions)
	assert.Equal(t, v1, v2)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(v1, v1)), 1e-5)

	near, err := m.Embed(ctx, "memory and sleep")
	require.NoError(t, err)
	far, err := m.Embed(ctx, "optical lens grinding")
	require.NoError(t, err)
	assert.Greater(t, cosine(v1, near), cosine(v1, far))
	assert.Len(t, m.Calls, 4)
}

func TestMockClient_EmptyAndError(t *testing.T) {
	m := NewMockClient()
	v, err := m.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}

	m.Err = errors.New("quota")
	_, err = m.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderNone, "")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)

	c, err = NewClient(ProviderMock, "")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewClient("cohere", "k")
	assert.Error(t, err)
}
