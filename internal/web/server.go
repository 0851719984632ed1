package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"bubble-level/internal/level"
	"bubble-level/internal/orientation"
)

//go:embed assets/*
var embeddedAssets embed.FS

// Controller is the level session surface exposed over HTTP.
// Implementations must be safe to call concurrently.
type Controller interface {
	Snapshot() level.State
	CalibrateX()
	CalibrateY()
	CalibratePlane()
	CalibrateAll()
	ZeroOffsets()
	SetTolerance(v float64) float64
	SetInvertX(on bool)
	SetInvertY(on bool)
	SetSwapXY(on bool)
	SetDarkTheme(on bool)
	SetSound(on bool)
}

// RotationControl reads and overrides the display rotation used by the source.
type RotationControl interface {
	Get() orientation.DisplayRotation
	Set(orientation.DisplayRotation)
}

// actions maps calibration action names (URL suffix or websocket action) to
// controller calls.
func actions(ctl Controller) map[string]func() {
	return map[string]func(){
		"x":     ctl.CalibrateX,
		"y":     ctl.CalibrateY,
		"plane": ctl.CalibratePlane,
		"all":   ctl.CalibrateAll,
		"zero":  ctl.ZeroOffsets,
	}
}

type RotationPayload struct {
	Degrees *int `json:"degrees"`
}

func Handler(ctl Controller, rot RotationControl, states *StateBroadcaster, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Should never happen; keep server functional with API only.
		assetsFS = nil
	}

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, ctl.Snapshot())
	})

	acts := actions(ctl)
	mux.HandleFunc("/api/calibrate/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/api/calibrate/")
		fn, ok := acts[name]
		if !ok || name == "zero" {
			http.NotFound(w, r)
			return
		}
		fn()
		writeJSON(w, ctl.Snapshot())
	})

	mux.HandleFunc("/api/zero", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		ctl.ZeroOffsets()
		writeJSON(w, ctl.Snapshot())
	})

	mux.Handle("/api/settings", settingsHandler(ctl))

	mux.HandleFunc("/api/rotation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if rot == nil {
			http.Error(w, "rotation unavailable", http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPost {
			var in RotationPayload
			dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&in); err != nil {
				http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
				return
			}
			if in.Degrees == nil {
				http.Error(w, "degrees is required", http.StatusBadRequest)
				return
			}
			v, err := orientation.ParseDegrees(*in.Degrees)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rot.Set(v)
		}
		deg := rot.Get().Degrees()
		writeJSON(w, RotationPayload{Degrees: &deg})
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if states != nil {
		mux.Handle("/api/stream", streamHandler(ctl, states))
	}

	mux.Handle("/api/about", AboutHandler())

	if assetsFS != nil {
		fileServer := http.FileServer(http.FS(assetsFS))
		mux.Handle("/assets/", http.StripPrefix("/assets/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			fileServer.ServeHTTP(w, r)
		})))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if r.URL.Path != "/" {
			if path.Dir(r.URL.Path) == "/api" || strings.HasPrefix(r.URL.Path, "/api/") || path.Dir(r.URL.Path) == "/assets" {
				http.NotFound(w, r)
				return
			}
		}

		if assetsFS == nil {
			st := ctl.Snapshot()
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>Bubble Level</title></head><body>")
			_, _ = fmt.Fprintf(w, "<h1>Bubble Level</h1><p>Web UI is unavailable. Use <a href=\"/api/state\">/api/state</a>.</p>")
			_, _ = fmt.Fprintf(w, "<pre>pitch=%.1f roll=%.1f leveled=%v</pre></body></html>", st.PitchAdj, st.RollAdj, st.IsLeveled)
			return
		}

		b, err := fs.ReadFile(assetsFS, "index.html")
		if err != nil {
			http.Error(w, "ui unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(b)
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	if handler == nil {
		return errors.New("web: handler is nil")
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
