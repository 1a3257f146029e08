package orchestrator

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "   \t\n  ",
			want: nil,
		},
		{
			name: "long words retained",
			text: "explique detalhadamente alavancagem",
			want: []string{"explique", "detalhadamente", "alavancagem"},
		},
		{
			name: "short vocabulary terms retained",
			text: "o rsi e o macd do win",
			want: []string{"rsi", "macd", "win"},
		},
		{
			name: "short non-vocabulary words dropped",
			text: "o que sobe mais agora",
			want: []string{"agora"},
		},
		{
			name: "articles do not match inside vocabulary words",
			text: "a do em si",
			want: nil,
		},
		{
			name: "punctuation stripped, original form kept",
			text: "WINFUT, suporte! (resistência)",
			want: []string{"WINFUT", "suporte", "resistência"},
		},
		{
			name: "case-insensitive dedupe keeps first form",
			text: "Suporte suporte SUPORTE rompimento",
			want: []string{"Suporte", "rompimento"},
		},
		{
			name: "accented vocabulary",
			text: "qual a previsão do índice",
			want: []string{"previsão", "índice"},
		},
		{
			name: "ticker inside larger token",
			text: "grafico petr4f vencendo",
			want: []string{"grafico", "petr4f", "vencendo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractKeywordsCap(t *testing.T) {
	words := []string{
		"primeiro", "segundo", "terceiro", "quarto", "quinto", "sexto",
		"setimo", "oitavo", "noveno", "decimo", "undecimo", "duodecimo",
	}
	got := ExtractKeywords(strings.Join(words, " "))
	if len(got) != 10 {
		t.Fatalf("got %d keywords, want 10", len(got))
	}
	if !reflect.DeepEqual(got, words[:10]) {
		t.Errorf("cap must keep first-occurrence order, got %v", got)
	}
}

func TestExtractKeywordsOrderPreserved(t *testing.T) {
	got := ExtractKeywords("resistência rompeu depois suporte")
	want := []string{"resistência", "rompeu", "depois", "suporte"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
