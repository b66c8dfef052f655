package provisioning

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcplite/caphost/internal/infrastructure/config"
	"github.com/mcplite/caphost/internal/infrastructure/logging"
)

// Portal is the captive-portal HTTP surface served while the device is
// in provisioning mode.
type Portal struct {
	cfg     config.ProvisioningConfig
	service *Service
	network Network
	logger  *logging.Logger

	// deviceID pre-fills the form so a plain save keeps the derived
	// identity.
	deviceID string

	// restart is invoked after a successful save.
	restart func()

	server *http.Server
}

// NewPortal creates the portal. restart runs after a successful save.
func NewPortal(cfg config.ProvisioningConfig, service *Service, network Network, deviceID string, restart func(), logger *logging.Logger) *Portal {
	return &Portal{
		cfg:      cfg,
		service:  service,
		network:  network,
		deviceID: deviceID,
		restart:  restart,
		logger:   logger,
	}
}

// Start launches the portal listener in the background.
func (p *Portal) Start(ctx context.Context) error {
	p.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", p.cfg.Port),
		Handler:           p.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		p.logger.Info("provisioning portal listening", "addr", p.server.Addr)
		if err := p.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("provisioning portal error", "error", err)
		}
	}()
	return nil
}

// Close shuts the portal listener down.
func (p *Portal) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.server.Shutdown(ctx)
}

func (p *Portal) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/", p.handleForm)
	r.Post("/save", p.handleSave)

	// Captive-portal probes. Answering them non-redirected makes
	// phones pop the portal page.
	r.Get("/generate_204", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/hotspot-detect.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Success</body></html>")
	})

	return r
}

func (p *Portal) handleForm(w http.ResponseWriter, req *http.Request) {
	var scanned []string
	if req.URL.Query().Get("scan") == "1" {
		ctx, cancel := context.WithTimeout(req.Context(), 15*time.Second)
		defer cancel()
		ssids, err := p.network.Scan(ctx)
		if err != nil {
			p.logger.Warn("network scan", "error", err)
		}
		scanned = ssids
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><title>Device Setup</title></head><body>")
	b.WriteString("<h1>Device Setup</h1>")
	if len(scanned) > 0 {
		b.WriteString("<p>Visible networks:</p><ul>")
		for _, ssid := range scanned {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(ssid))
		}
		b.WriteString("</ul>")
	} else {
		b.WriteString(`<p><a href="/?scan=1">Scan for networks</a></p>`)
	}
	b.WriteString(`<form method="POST" action="/save">`)
	b.WriteString(`<label>Wi-Fi SSID <input name="ssid"></label><br>`)
	b.WriteString(`<label>Wi-Fi password <input name="secret" type="password"></label><br>`)
	b.WriteString(`<label>Broker host <input name="broker_host"></label><br>`)
	fmt.Fprintf(&b, `<label>Broker port <input name="broker_port" value="%d"></label><br>`, defaultBrokerPort)
	fmt.Fprintf(&b, `<label>Device id <input name="device_id" value="%s"></label><br>`, html.EscapeString(p.deviceID))
	b.WriteString(`<button type="submit">Save and restart</button></form></body></html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, b.String())
}

// handleSave validates and persists the submitted configuration. An
// incomplete form is rejected with 422 and nothing is written.
func (p *Portal) handleSave(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)
		return
	}

	cfg := ConnConfig{
		WiFiSSID:   strings.TrimSpace(req.PostFormValue("ssid")),
		WiFiSecret: req.PostFormValue("secret"),
		BrokerHost: strings.TrimSpace(req.PostFormValue("broker_host")),
		BrokerPort: defaultBrokerPort,
		DeviceID:   strings.TrimSpace(req.PostFormValue("device_id")),
	}
	if port := strings.TrimSpace(req.PostFormValue("broker_port")); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			http.Error(w, "broker port must be a number", http.StatusUnprocessableEntity)
			return
		}
		cfg.BrokerPort = v
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = p.deviceID
	}

	if err := p.service.Save(req.Context(), cfg); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		p.logger.Error("saving provisioned configuration", "error", err)
		http.Error(w, "could not persist configuration", http.StatusInternalServerError)
		return
	}

	p.logger.Info("configuration provisioned", "ssid", cfg.WiFiSSID, "broker", cfg.BrokerHost)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body>Saved. The device is restarting.</body></html>")

	if p.restart != nil {
		go p.restart()
	}
}
