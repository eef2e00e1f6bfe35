//go:build e2e
// +build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urtextpiano-dev/urtext-sub005/cmd"
	"github.com/urtextpiano-dev/urtext-sub005/config"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/score"
)

var (
	session *cmd.Session
	router  http.Handler
)

func threeMeasures() *score.Graph {
	g := &score.Graph{Title: "e2e"}
	for i := 0; i < 3; i++ {
		g.Measures = append(g.Measures, &score.Measure{
			Index: i,
			Staves: []*score.Staff{{
				DurationInBeats: 1,
				Notes:           []score.Note{{MIDIValue: uint8(60 + i), DurationInBeats: 1}},
			}},
		})
	}
	g.Measures[0].TempoBPM = 120
	return g
}

func TestMain(m *testing.M) {
	cfg := config.DefaultConfig()
	cfg.Tempo.OverrideBackend = config.BackendMemory
	cfg.Difficulty.SettingsPath = ""

	var err error
	session, err = cmd.NewSession(cfg, threeMeasures(), nil)
	if err != nil {
		panic(err.Error())
	}
	router = cmd.NewRouter(session)

	exitVal := m.Run()
	session.Close()
	os.Exit(exitVal)
}

func do(t *testing.T, method, path string, body any) *http.Response {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Result()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	respBody, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(respBody, &v), string(respBody))
	return v
}

type stateResponse struct {
	Status       string `json:"status"`
	StepIndex    int    `json:"step_index"`
	AttemptCount int    `json:"attempt_count"`
	LastResult   string `json:"last_result"`
	CurrentStep  *struct {
		MeasureIndex int `json:"measure_index"`
	} `json:"current_step"`
}

func TestTimeline(t *testing.T) {
	resp := do(t, http.MethodGet, "/timeline", nil)
	tl := decode[model.TimelineResponse](t, resp)

	assert := assert.New(t)
	assert.Equal(200, resp.StatusCode)
	assert.Equal(3, tl.MeasureCount)
	assert.False(tl.HasRepeats)

	assert.False(session.Timeline.SeekToMeasure(-1, session.Cursor))
	assert.False(session.Timeline.SeekToMeasure(999, session.Cursor))
	assert.Equal(3, session.Timeline.MeasureCount())
}

func TestPracticeAdvancesAfterCorrectNote(t *testing.T) {
	defer do(t, http.MethodPost, "/practice/stop", nil)

	state := decode[stateResponse](t, do(t, http.MethodPost, "/practice/start", nil))
	require.Equal(t, "listening", state.Status)

	state = decode[stateResponse](t, do(t, http.MethodPost, "/notes", model.NoteRequestBody{MIDIValue: 60, Velocity: 90}))
	assert.Equal(t, "feedback_correct", state.Status)
	assert.Equal(t, "correct", state.LastResult)

	assert.Eventually(t, func() bool {
		return session.Cursor.CurrentPosition() == 1
	}, 2*time.Second, 10*time.Millisecond)

	state = decode[stateResponse](t, do(t, http.MethodGet, "/state", nil))
	assert.Equal(t, "listening", state.Status)
	assert.Equal(t, 1, state.StepIndex)
	assert.Equal(t, 1, state.CurrentStep.MeasureIndex)
}

func TestWrongNoteCountsAttempt(t *testing.T) {
	defer do(t, http.MethodPost, "/practice/stop", nil)
	do(t, http.MethodPost, "/practice/start", nil)

	state := decode[stateResponse](t, do(t, http.MethodPost, "/notes", model.NoteRequestBody{MIDIValue: 70, Velocity: 90}))
	assert.Equal(t, "feedback_incorrect", state.Status)
	assert.Equal(t, 1, state.AttemptCount)

	state = decode[stateResponse](t, do(t, http.MethodPost, "/notes", model.NoteRequestBody{Type: "noteOff", MIDIValue: 70}))
	assert.Equal(t, "listening", state.Status)

	highlights := decode[[]map[string]any](t, do(t, http.MethodGet, "/highlights", nil))
	assert.NotEmpty(t, highlights)
}

func TestTempoOverride(t *testing.T) {
	resp := do(t, http.MethodPut, "/tempo/override", model.TempoOverrideBody{BPM: 60})
	tr := decode[model.TempoResponse](t, resp)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, model.TempoResponse{BPM: 60, Override: true}, tr)

	resp = do(t, http.MethodPut, "/tempo/override", model.TempoOverrideBody{BPM: -5})
	assert.Equal(t, 400, resp.StatusCode)

	tr = decode[model.TempoResponse](t, do(t, http.MethodDelete, "/tempo/override", nil))
	assert.Equal(t, model.TempoResponse{BPM: 120, Override: false}, tr)
}

func TestBadNoteRequest(t *testing.T) {
	resp := do(t, http.MethodPost, "/notes", map[string]any{"type": "pedal"})
	assert.Equal(t, 400, resp.StatusCode)
}
