package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/fitted-service/internal/models"
)

type fakeCompleter struct {
	reply  string
	err    error
	calls  int
	system string
	user   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	return f.reply, f.err
}

func TestGenerator_ModelReply(t *testing.T) {
	fc := &fakeCompleter{reply: "```json\n{\"top\":\"Tee\",\"bottom\":\"Jeans\",\"outerwear\":\"None\",\"accessories\":\"Cap\"}\n```"}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 20, 13, 0, 0, 0, time.UTC))
	g := NewGenerator(fc, clock, nil)

	got, src := g.SuggestWithSource(context.Background(), Request{Location: "Lisbon", TempC: 22, Condition: "Sunny"})
	if src != SourceModel {
		t.Errorf("source = %q, want model", src)
	}
	want := models.OutfitSuggestion{Top: "Tee", Bottom: "Jeans", Outerwear: "None", Accessories: "Cap"}
	if got != want {
		t.Errorf("Suggest() = %+v, want %+v", got, want)
	}
	if !strings.Contains(fc.system, `"top", "bottom", "outerwear", "accessories"`) {
		t.Errorf("system prompt = %q", fc.system)
	}
	if !strings.Contains(fc.user, "Lisbon") || !strings.Contains(fc.user, "afternoon") {
		t.Errorf("user prompt = %q", fc.user)
	}
}

// TestGenerator_ProseFallsBack verifies a non-JSON reply yields the rule-based outfit.
func TestGenerator_ProseFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fc := &fakeCompleter{reply: "I'd wear a cosy jumper and jeans today!"}
	g := NewGenerator(fc, nil, zap.New(core))

	got, src := g.SuggestWithSource(context.Background(), Request{Location: "Leeds", TempC: 3, Condition: "Light rain"})
	if src != SourceFallback {
		t.Errorf("source = %q, want fallback", src)
	}
	if got != Fallback(3, "Light rain", false) {
		t.Errorf("Suggest() = %+v, want fallback", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("fallback invalid: %v", err)
	}
	if n := logs.FilterField(zap.String("reason", "malformed")).Len(); n != 1 {
		t.Errorf("malformed fallback logs = %d, want 1", n)
	}
}

func TestGenerator_LLMErrorFallsBack(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("502 bad gateway")}
	g := NewGenerator(fc, nil, zap.NewNop())
	forecast := []models.ForecastDay{{Date: "2024-06-20"}}

	got := g.Suggest(context.Background(), Request{TempC: 30, Condition: "Clear", Forecast: forecast})
	if got != Fallback(30, "Clear", true) {
		t.Errorf("Suggest() = %+v, want fallback with forecast note", got)
	}
}

func TestGenerator_NoCredentialSkipsNetwork(t *testing.T) {
	g := NewGenerator(nil, nil, nil)
	got, src := g.SuggestWithSource(context.Background(), Request{TempC: 10, Condition: "Cloudy"})
	if src != SourceFallback {
		t.Errorf("source = %q, want fallback", src)
	}
	if got.Top == "" || got.Bottom == "" || got.Outerwear == "" || got.Accessories == "" {
		t.Errorf("Suggest() = %+v, want all fields populated", got)
	}
}
