package update

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epdframe/internal/panel"
	"epdframe/internal/serverapi"
	"epdframe/internal/stream"
)

// fakeDisplay records the full command/data traffic of one update.
type fakeDisplay struct {
	initCalls    int
	refreshCalls int
	prepares     []panel.Channel
	data         map[panel.Channel][]byte
	current      panel.Channel
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{data: map[panel.Channel][]byte{}}
}

func (f *fakeDisplay) Initialize() { f.initCalls++ }

func (f *fakeDisplay) PrepareChannel(ch panel.Channel) {
	f.prepares = append(f.prepares, ch)
	f.current = ch
}

func (f *fakeDisplay) WriteDataByte(b byte) {
	f.data[f.current] = append(f.data[f.current], b)
}

func (f *fakeDisplay) Refresh() { f.refreshCalls++ }

// channelServer serves the two raw endpoints with fixed bodies, or a 404 when
// a body is nil, and counts requests per path.
type channelServer struct {
	bw, red []byte
	hits    map[string]int
}

func (s *channelServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits[r.URL.Path]++
		var body []byte
		switch r.URL.Path {
		case "/calendar_bw.raw":
			body = s.bw
		case "/calendar_red.raw":
			body = s.red
		default:
			http.NotFound(w, r)
			return
		}
		if body == nil {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	})
}

func startServer(t *testing.T, bw, red []byte) (*channelServer, *serverapi.Client) {
	t.Helper()
	srv := &channelServer{bw: bw, red: red, hits: map[string]int{}}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return srv, serverapi.NewClient(ts.URL)
}

func TestRunFullUpdate(t *testing.T) {
	bw := append(
		bytes.Repeat([]byte{panel.PixelBlack}, panel.TotalBytes/4),
		bytes.Repeat([]byte{panel.PixelWhite}, panel.TotalBytes-panel.TotalBytes/4)...,
	)
	red := bytes.Repeat([]byte{panel.PixelRed}, panel.TotalBytes)

	_, client := startServer(t, bw, red)
	disp := newFakeDisplay()
	orch := New(disp, client, nil)

	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, disp.initCalls)
	assert.Equal(t, 1, disp.refreshCalls, "refresh is issued exactly once")
	assert.Equal(t, []panel.Channel{panel.ChannelBlackWhite, panel.ChannelRed}, disp.prepares)
	assert.Len(t, disp.data[panel.ChannelBlackWhite], panel.TotalBytes)
	assert.Len(t, disp.data[panel.ChannelRed], panel.TotalBytes)

	assert.Equal(t, panel.TotalBytes, res.BlackWhite.Received)
	assert.Equal(t, 0, res.BlackWhite.Padded)
	assert.Equal(t, panel.TotalBytes/4, res.BlackWhite.Count(stream.ClassBlack))
	assert.Equal(t, panel.TotalBytes, res.Red.Count(stream.ClassRed))
	assert.False(t, res.RedFellBack)
	assert.Equal(t, PhaseIdle, orch.Phase())
}

func TestRunPadsShortBlackWhiteBody(t *testing.T) {
	short := panel.TotalBytes / 4
	bw := bytes.Repeat([]byte{panel.PixelBlack}, short)
	red := bytes.Repeat([]byte{panel.PixelNoRed}, panel.TotalBytes)

	_, client := startServer(t, bw, red)
	disp := newFakeDisplay()
	orch := New(disp, client, nil)

	res, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, short, res.BlackWhite.Received)
	assert.Equal(t, panel.TotalBytes-short, res.BlackWhite.Padded)
	require.Len(t, disp.data[panel.ChannelBlackWhite], panel.TotalBytes)
	for i := short; i < panel.TotalBytes; i += 4096 {
		assert.Equalf(t, byte(panel.PixelWhite), disp.data[panel.ChannelBlackWhite][i],
			"pad region byte %d must be the white byte", i)
	}
	assert.Equal(t, 1, disp.refreshCalls)
}

func TestRunBlackWhiteFailureAbortsBeforeRed(t *testing.T) {
	srv, client := startServer(t, nil, bytes.Repeat([]byte{panel.PixelNoRed}, 16))
	disp := newFakeDisplay()
	orch := New(disp, client, nil)

	_, err := orch.Run(context.Background())
	require.Error(t, err)

	var statusErr *serverapi.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	assert.Equal(t, 1, disp.initCalls, "init precedes the first request")
	assert.Equal(t, 0, srv.hits["/calendar_red.raw"], "red must not be requested after a black/white failure")
	assert.Equal(t, 0, disp.refreshCalls, "no refresh on an aborted update")
	assert.Empty(t, disp.data)
}

func TestRunRedFailureFallsBackToNoRed(t *testing.T) {
	bw := bytes.Repeat([]byte{panel.PixelWhite}, panel.TotalBytes)

	_, client := startServer(t, bw, nil)
	disp := newFakeDisplay()
	orch := New(disp, client, nil)

	res, err := orch.Run(context.Background())
	require.NoError(t, err, "a failed red request degrades, it does not abort")

	assert.True(t, res.RedFellBack)
	assert.Equal(t, 0, res.Red.Received)
	assert.Equal(t, panel.TotalBytes, res.Red.Count(stream.ClassNoRed))
	require.Len(t, disp.data[panel.ChannelRed], panel.TotalBytes)
	for i := 0; i < panel.TotalBytes; i += 4096 {
		assert.Equalf(t, byte(panel.PixelNoRed), disp.data[panel.ChannelRed][i],
			"fallback byte %d must be the no-red byte", i)
	}
	assert.Equal(t, 1, disp.refreshCalls, "refresh still happens after the fallback")
}

func TestRunEmptyBlackWhiteBodyStillCompletes(t *testing.T) {
	_, client := startServer(t, []byte{}, bytes.Repeat([]byte{panel.PixelNoRed}, panel.TotalBytes))
	disp := newFakeDisplay()
	orch := New(disp, client, nil)

	res, err := orch.Run(context.Background())
	require.NoError(t, err, "an empty body is a diagnostic, not a failure")

	assert.True(t, res.BlackWhite.ZeroBytes)
	assert.Equal(t, panel.TotalBytes, res.BlackWhite.Padded)
	assert.Len(t, disp.data[panel.ChannelBlackWhite], panel.TotalBytes)
	assert.Equal(t, 1, disp.refreshCalls)
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{PhaseIdle, "idle"},
		{PhaseInitializing, "initializing"},
		{PhaseStreamingBW, "streaming_bw"},
		{PhaseStreamingRed, "streaming_red"},
		{PhaseRefreshing, "refreshing"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.phase.String())
	}
}
