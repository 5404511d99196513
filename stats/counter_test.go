package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIncrement(t *testing.T) {
	c := NewCounter()
	c.Increment("123", "us-east-1", "ec2")
	c.Increment("123", "us-east-1", "ec2")
	c.Increment("123", "us-east-1", "s3")
	c.Increment("456", "eu-west-1", "ecs")

	assert.Equal(t, 4, c.Count)
	assert.Equal(t, 3, c.Children["123"].Count)
	assert.Equal(t, 3, c.Children["123"].Children["us-east-1"].Count)
	assert.Equal(t, 2, c.Children["123"].Children["us-east-1"].Children["ec2"].Count)
	assert.Equal(t, 1, c.Children["123"].Children["us-east-1"].Children["s3"].Count)
	assert.Equal(t, 1, c.Children["456"].Count)
}

func TestCounterMerge(t *testing.T) {
	a := NewCounter()
	a.Increment("123", "us-east-1", "ec2")
	b := NewCounter()
	b.Increment("123", "us-east-1", "ec2")
	b.Increment("123", "us-west-2", "rds")

	a.Merge(b)

	assert.Equal(t, 3, a.Count)
	assert.Equal(t, 3, a.Children["123"].Count)
	assert.Equal(t, 2, a.Children["123"].Children["us-east-1"].Children["ec2"].Count)
	assert.Equal(t, 1, a.Children["123"].Children["us-west-2"].Count)
}

func TestCounterMergeAssociative(t *testing.T) {
	build := func() (*Counter, *Counter, *Counter) {
		x := NewCounter()
		x.Increment("a", "r1")
		y := NewCounter()
		y.Increment("a", "r2")
		z := NewCounter()
		z.Increment("b", "r1")
		return x, y, z
	}

	left, y1, z1 := build()
	left.Merge(y1)
	left.Merge(z1)

	x2, right, z2 := build()
	right.Merge(z2)
	x2.Merge(right)

	assert.Equal(t, left.Count, x2.Count)
	assert.Equal(t, left.Children["a"].Count, x2.Children["a"].Count)
	assert.Equal(t, left.Children["b"].Count, x2.Children["b"].Count)
}

func TestCounterMergeNil(t *testing.T) {
	c := NewCounter()
	c.Increment("123")
	c.Merge(nil)
	assert.Equal(t, 1, c.Count)
}

func TestCounterJSONRoundTrip(t *testing.T) {
	c := NewCounter()
	c.Increment("123", "us-east-1", "ec2")
	c.Increment("123", "us-east-1", "ec2")
	c.Increment("456", "eu-west-1", "ecs")

	data, err := json.Marshal(c)
	require.NoError(t, err)

	// wire shape matches the documented layout
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "count")
	assert.Contains(t, raw, "123")

	parsed := NewCounter()
	require.NoError(t, json.Unmarshal(data, parsed))
	assert.Equal(t, 3, parsed.Count)
	assert.Equal(t, 2, parsed.Children["123"].Children["us-east-1"].Children["ec2"].Count)
}
