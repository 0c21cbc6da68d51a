package tools

import (
	"errors"
	"reflect"
	"testing"

	"backforge/internal/kb"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(Descriptor{Name: "sharpe", Symbol: "SharpeRatio"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := reg.Get("sharpe")
	if !ok {
		t.Fatal("Get missed a registered tool")
	}
	if got.Module != KBModule {
		t.Errorf("got module %q, want default %q", got.Module, KBModule)
	}
	if got.Ref() != "kb.SharpeRatio" {
		t.Errorf("got ref %q", got.Ref())
	}
}

func TestRegisterRejects(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(Descriptor{Symbol: "X"}); !errors.Is(err, ErrToolNameEmpty) {
		t.Errorf("expected ErrToolNameEmpty, got %v", err)
	}
	if err := reg.Register(Descriptor{Name: "x"}); !errors.Is(err, ErrToolSymbolEmpty) {
		t.Errorf("expected ErrToolSymbolEmpty, got %v", err)
	}
	reg.MustRegister(Descriptor{Name: "dupe", Symbol: "A"})
	if err := reg.Register(Descriptor{Name: "dupe", Symbol: "B"}); !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Errorf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		name      string
		requested []string
		want      []string
	}{
		{"preserves order", []string{"drawdown", "returns", "sharpe"}, []string{"drawdown", "returns", "sharpe"}},
		{"dedupes", []string{"returns", "sharpe", "returns"}, []string{"returns", "sharpe"}},
		{"drops unknown", []string{"returns", "crystal_ball", "sharpe"}, []string{"returns", "sharpe"}},
		{"empty", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescriptorNames(reg.Resolve(tt.requested))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.requested, got, tt.want)
			}
		})
	}
}

// Every builtin descriptor must name a symbol the helper package exports.
func TestBuiltinSymbolsExist(t *testing.T) {
	exported := map[string]interface{}{
		"PctReturns":           kb.PctReturns,
		"SharpeRatio":          kb.SharpeRatio,
		"MaxDrawdown":          kb.MaxDrawdown,
		"NormalizeWeights":     kb.NormalizeWeights,
		"ComputeTurnover":      kb.ComputeTurnover,
		"WalkForwardStability": kb.WalkForwardStability,
		"PortfolioReturns":     kb.PortfolioReturns,
		"RollingMean":          kb.RollingMean,
		"RunReference":         kb.RunReference,
	}
	for _, d := range Builtin() {
		if _, ok := exported[d.Symbol]; !ok {
			t.Errorf("tool %s references unknown symbol %s", d.Name, d.Symbol)
		}
	}
}
