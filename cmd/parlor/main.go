// Parlor — voice room client entry point.
//
// The client joins a named room through the relay, negotiates a direct audio
// link with every other member, and gates the microphone behind a
// push-to-talk toggle.
//
// It can be launched non-interactively via flags (-server, -room, -name) or
// interactively with prompts when flags are missing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/parlorvoice/parlor/internal/config"
	"github.com/parlorvoice/parlor/internal/media"
	"github.com/parlorvoice/parlor/internal/peer"
	"github.com/parlorvoice/parlor/internal/rtc"
	"github.com/parlorvoice/parlor/internal/signaling"
	"github.com/parlorvoice/parlor/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	serverFlag := flag.String("server", "", "Relay URL, e.g. wss://relay.example.com")
	roomFlag := flag.String("room", "", "Room to join")
	nameFlag := flag.String("name", "", "Participant name (generated when empty)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Parlor — v%s", version))
	pterm.Println()

	serverURL := *serverFlag
	if serverURL == "" {
		serverURL = askURL()
	}
	wsURL, err := normalizeWSURL(serverURL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	room := *roomFlag
	if room == "" {
		room = askRoom()
	}

	if err := run(ctx, wsURL, room, *nameFlag); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// run drives the whole client lifecycle: connect, join, relay events into
// the supervisor, push-to-talk loop, teardown.
func run(ctx context.Context, wsURL, room, name string) error {
	client, err := signaling.Dial(ctx, wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	capture, err := media.NewSampleCapture(&media.SilenceSource{})
	if err != nil {
		return err
	}

	stunServers := fetchStunServers(ctx, wsURL)
	sup := peer.NewSupervisor(client, rtc.NewFactory(stunServers), capture, newSink)
	sup.OnTalking(func(participant string, talking bool) {
		if talking {
			util.LogInfo("%s is talking", participant)
		}
	})

	// Read loop in the background; its error means the relay link dropped.
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Listen(sup)
	}()

	if err := sup.Join(ctx, room, name); err != nil {
		return err
	}
	defer sup.Leave()

	util.LogInfo("joined room %q as %s — push-to-talk is off", room, sup.Self())

	// Push-to-talk loop on its own goroutine so relay errors interrupt us.
	toggleCh := make(chan bool)
	go talkLoop(toggleCh)

	talking := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errCh:
			// No automatic rejoin: surface the loss and let the user decide.
			util.LogWarning("lost connection to relay")
			return err

		case quit := <-toggleCh:
			if quit {
				return nil
			}
			talking = !talking
			sup.SetTalking(talking)
			if talking {
				util.LogInfo("mic open")
			} else {
				util.LogInfo("mic muted")
			}
		}
	}
}

// talkLoop prompts for push-to-talk toggles. Sends true on quit, false on
// toggle.
func talkLoop(toggleCh chan<- bool) {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("[t] toggle mic, [q] quit").
			Show()

		switch strings.TrimSpace(strings.ToLower(raw)) {
		case "t":
			toggleCh <- false
		case "q":
			toggleCh <- true
			return
		}
	}
}

// newSink builds the playback sink for a remote participant. Playback device
// integration hangs off this seam; the default build discards audio.
func newSink(participant string) media.Sink {
	util.LogDebug("audio track open for %s", participant)
	return media.DiscardSink{}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// fetchStunServers asks the relay's /ice endpoint for STUN hints, falling
// back to the built-in defaults when the relay does not serve any.
func fetchStunServers(ctx context.Context, wsURL string) []string {
	iceURL := "http" + strings.TrimPrefix(wsURL, "ws")
	iceURL = strings.TrimSuffix(iceURL, "/ws") + "/ice"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iceURL, nil)
	if err != nil {
		return config.DefaultStunServers
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		util.LogDebug("no ICE hints from relay, using defaults: %v", err)
		return config.DefaultStunServers
	}
	defer resp.Body.Close()

	var hints struct {
		StunServers []string `json:"stunServers"`
	}
	if resp.StatusCode != http.StatusOK ||
		json.NewDecoder(resp.Body).Decode(&hints) != nil ||
		len(hints.StunServers) == 0 {
		return config.DefaultStunServers
	}
	return hints.StunServers
}

// normalizeWSURL validates a relay URL and pins it to the /ws endpoint.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askURL prompts for a relay URL until a valid one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example.com)").
			Show()

		if _, err := normalizeWSURL(raw); err == nil {
			pterm.Println()
			return raw
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askRoom prompts for a non-empty room name.
func askRoom() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room to join").
			Show()

		if name := strings.TrimSpace(raw); name != "" {
			pterm.Println()
			return name
		}

		util.LogWarning("room name must not be empty")
		pterm.Println()
	}
}
