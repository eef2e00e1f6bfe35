package cmd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/urtextpiano-dev/urtext-sub005/midi"
	"github.com/urtextpiano-dev/urtext-sub005/model"
	"github.com/urtextpiano-dev/urtext-sub005/practice"
	"github.com/urtextpiano-dev/urtext-sub005/tempo"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve <score.mid>",
	Short: "Serves a practice session over HTTP",
	Long: `Serves a practice session over HTTP. Notes arrive through POST /notes and
state, timeline, tempo and highlights can be read back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		g, err := midi.ReadScore(args[0])
		if err != nil {
			return err
		}
		session, err := NewSession(cfg, g, logger)
		if err != nil {
			return err
		}
		defer session.Close()

		handler := cors.New(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		}).Handler(NewRouter(session))

		logger.Info("serve: listening", "addr", cfg.Server.Addr)
		return http.ListenAndServe(cfg.Server.Addr, handler)
	},
}

type server struct {
	session *Session
	logger  *slog.Logger
}

// NewRouter exposes a session's machine over HTTP.
func NewRouter(session *Session) http.Handler {
	s := &server{session: session, logger: session.Logger}
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/timeline", s.handleTimeline).Methods(http.MethodGet)
	router.HandleFunc("/highlights", s.handleHighlights).Methods(http.MethodGet)
	router.HandleFunc("/notes", s.handleNote).Methods(http.MethodPost)
	router.HandleFunc("/practice/{action:start|stop|dismiss|repeat}", s.handlePractice).Methods(http.MethodPost)
	router.HandleFunc("/tempo", s.handleTempo).Methods(http.MethodGet)
	router.HandleFunc("/tempo/override", s.handleSetOverride).Methods(http.MethodPut)
	router.HandleFunc("/tempo/override", s.handleClearOverride).Methods(http.MethodDelete)
	return router
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("serve: could not write response", "err", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, model.ErrorResponse{Error: err.Error()})
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Machine.Snapshot())
}

func (s *server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	tl := s.session.Timeline
	s.writeJSON(w, http.StatusOK, model.TimelineResponse{
		MeasureCount: tl.MeasureCount(),
		HasRepeats:   tl.HasRepeats(),
		Positions:    tl.Positions(),
	})
}

func (s *server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Highlights.History())
}

func (s *server) handleNote(w http.ResponseWriter, r *http.Request) {
	var body model.NoteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.MIDIValue > 127 {
		s.writeError(w, http.StatusBadRequest, errors.New("midi_value must be within [0, 127]"))
		return
	}
	ev := model.InputEvent{Type: model.NoteOn, MIDIValue: body.MIDIValue, Velocity: body.Velocity}
	switch body.Type {
	case "", "noteOn":
		if ev.Velocity == 0 {
			ev.Velocity = 64
		}
	case "noteOff":
		ev.Type, ev.Velocity = model.NoteOff, 0
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("type must be noteOn or noteOff"))
		return
	}
	ev.Timestamp = s.session.Scheduler.CurrentTime()
	s.session.Machine.Dispatch(practice.FromInput(ev))
	s.writeJSON(w, http.StatusOK, s.session.Machine.Snapshot())
}

func (s *server) handlePractice(w http.ResponseWriter, r *http.Request) {
	var ev practice.Event
	switch mux.Vars(r)["action"] {
	case "start":
		ev = practice.Start()
	case "stop":
		ev = practice.Stop()
	case "dismiss":
		ev = practice.DismissRepeatWarning()
	case "repeat":
		ev = practice.ToggleSectionRepeat()
	}
	s.session.Machine.Dispatch(ev)
	s.writeJSON(w, http.StatusOK, s.session.Machine.Snapshot())
}

func (s *server) tempoResponse() model.TempoResponse {
	_, override := s.session.Tempo.ManualOverride()
	return model.TempoResponse{BPM: s.session.Tempo.CurrentBPM(), Override: override}
}

func (s *server) handleTempo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tempoResponse())
}

func (s *server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var body model.TempoOverrideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.Tempo.SetManualOverride(&body.BPM); err != nil {
		if errors.Is(err, tempo.ErrInvalidBPM) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Warn("serve: override applied but not persisted", "err", err)
	}
	s.writeJSON(w, http.StatusOK, s.tempoResponse())
}

func (s *server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Tempo.SetManualOverride(nil); err != nil {
		s.logger.Warn("serve: override cleared but not persisted", "err", err)
	}
	s.writeJSON(w, http.StatusOK, s.tempoResponse())
}
