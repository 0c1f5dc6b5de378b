package capability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/orchestra/internal/a2a"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	assert.Equal(t, Transient, KindOf(base))
	assert.Equal(t, Transient, KindOf(TransientError("compute", base)))
	assert.Equal(t, Permanent, KindOf(PermanentError("compute", base)))
	assert.Equal(t, Permanent, KindOf(errors.Join(errors.New("ctx"), PermanentError("x", base))))

	assert.False(t, IsPermanent(nil))
	assert.True(t, IsPermanent(PermanentError("compute", base)))
	assert.ErrorIs(t, PermanentError("compute", base), base)
}

func TestBuiltin(t *testing.T) {
	p := Builtin()
	ctx := context.Background()

	tests := []struct {
		name       string
		capability string
		payload    string
		inputs     []string
		want       string
	}{
		{"compute addition", "compute", "compute 2+2", nil, "4"},
		{"compute precedence", "compute", "what is 2 + 3 * 4", nil, "14"},
		{"compute division", "compute", "7/2", nil, "3.5"},
		{"format inputs", "format", "format as text", []string{"4"}, "Result: 4"},
		{"format without inputs", "format", "hello", nil, "Result: hello"},
		{"echo", "echo", "ping", nil, "ping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Invoke(ctx, tt.capability, tt.payload, Options{Inputs: tt.inputs})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, []string{"compute", "echo", "format"}, p.Capabilities())
}

func TestBuiltin_Errors(t *testing.T) {
	p := Builtin()

	_, err := p.Invoke(context.Background(), "translate", "hola", Options{})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = p.Invoke(context.Background(), "compute", "no numbers here", Options{})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrNoExpression)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Invoke(ctx, "echo", "x", Options{})
	assert.False(t, IsPermanent(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func startAgent(t *testing.T, p Provider, caps ...string) string {
	t.Helper()
	agent := NewAgent("test-agent", "0.0.1", p, caps, nil)
	ts := httptest.NewServer(agent.Server().Routes())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRemote_RoundTrip(t *testing.T) {
	url := startAgent(t, Builtin(), "compute", "format")
	r := NewRemote(a2a.NewHTTPClient(a2a.WithTimeout(2*time.Second)), url)
	ctx := context.Background()

	got, err := r.Invoke(ctx, "compute", "compute 2+2", Options{})
	require.NoError(t, err)
	assert.Equal(t, "4", got)

	got, err = r.Invoke(ctx, "format", "format as text", Options{Inputs: []string{"4"}})
	require.NoError(t, err)
	assert.Equal(t, "Result: 4", got)

	require.NoError(t, r.Check(ctx))
	caps, err := r.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"compute", "format"}, caps)
}

func TestRemote_ErrorClassification(t *testing.T) {
	flaky := errors.New("upstream busy")
	p := ProviderFunc(func(ctx context.Context, capability, payload string, opts Options) (string, error) {
		switch capability {
		case "flaky":
			return "", TransientError(capability, flaky)
		case "broken":
			return "", PermanentError(capability, errors.New("bad input"))
		}
		return "", PermanentError(capability, ErrUnsupported)
	})
	url := startAgent(t, p, "flaky", "broken")
	r := NewRemote(a2a.NewHTTPClient(), url)

	tests := []struct {
		capability string
		want       ErrorKind
		contains   string
	}{
		{"flaky", Transient, "upstream busy"},
		{"broken", Permanent, "rejected"},
		{"missing", Permanent, "unsupported capability"},
	}
	for _, tt := range tests {
		t.Run(tt.capability, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), tt.capability, "x", Options{})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestRemote_TransportFailures(t *testing.T) {
	t.Run("unreachable is transient", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		r := NewRemote(a2a.NewHTTPClient(a2a.WithTimeout(time.Second)), url)
		_, err := r.Invoke(context.Background(), "compute", "1+1", Options{})
		assert.Equal(t, Transient, KindOf(err))
		assert.Error(t, r.Check(context.Background()))
	})

	t.Run("client error status is permanent", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}))
		defer ts.Close()

		_, err := NewRemote(a2a.NewHTTPClient(), ts.URL).Invoke(context.Background(), "compute", "1+1", Options{})
		assert.Equal(t, Permanent, KindOf(err))
	})

	t.Run("too many requests is transient", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		}))
		defer ts.Close()

		_, err := NewRemote(a2a.NewHTTPClient(), ts.URL).Invoke(context.Background(), "compute", "1+1", Options{})
		assert.Equal(t, Transient, KindOf(err))
	})
}

func TestAgent_RequiresCapability(t *testing.T) {
	agent := NewAgent("a", "1", Builtin(), nil, nil)
	_, err := agent.HandleSendMessage(context.Background(), a2a.SendMessageRequest{
		Message: a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.TextPart("x")}},
	})
	var rpcErr *a2a.RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, a2a.ErrCodeInvalidParams, rpcErr.Code)
}
