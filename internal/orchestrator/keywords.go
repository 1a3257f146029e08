package orchestrator

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxKeywords = 10

// vocabulary holds the fixed domain terms (B3 instruments and
// technical-analysis jargon) that qualify a token regardless of length.
// All entries lowercase; accented and unaccented spellings both listed
// because users type both.
var vocabulary = []string{
	// index futures and tickers
	"winfut", "wdofut", "win", "wdo", "ibov", "ibovespa",
	"petr4", "vale3", "itub4", "bbdc4", "bova11", "smal11",
	"dolar", "dólar", "indice", "índice",
	// asset classes
	"acao", "ação", "acoes", "ações", "opcao", "opção", "opcoes", "opções",
	"fii", "fiis", "etf", "cripto", "bitcoin", "btc", "cdb", "tesouro",
	// technical analysis
	"candle", "candlestick", "grafico", "gráfico", "suporte",
	"resistencia", "resistência", "tendencia", "tendência",
	"previsao", "previsão", "rompimento", "pullback", "volume",
	"rsi", "ifr", "macd", "bollinger", "fibonacci", "pivot", "topo", "fundo",
	// operation
	"daytrade", "scalp", "swing", "stop", "alvo", "entrada", "saida", "saída",
	"alavancagem", "margem", "carteira", "aporte", "dividendos",
	// macro
	"selic", "cdi", "ipca", "juros", "inflacao", "inflação", "cambio", "câmbio",
}

// ExtractKeywords derives the salient terms of a free-text message for
// querying the knowledge store. A token is retained when it matches a
// vocabulary entry (case-insensitively, substring in either direction)
// or when it is longer than 4 runes. First-occurrence order is kept,
// duplicates dropped, result capped at 10.
func ExtractKeywords(text string) []string {
	if text == "" {
		return nil
	}

	var keywords []string
	seen := make(map[string]bool)

	for _, raw := range strings.Fields(text) {
		token := strings.TrimFunc(raw, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if token == "" {
			continue
		}

		lower := strings.ToLower(token)
		if seen[lower] {
			continue
		}

		if utf8.RuneCountInString(token) > 4 || matchesVocabulary(lower) {
			seen[lower] = true
			keywords = append(keywords, token)
			if len(keywords) == maxKeywords {
				break
			}
		}
	}

	return keywords
}

// matchesVocabulary checks the substring relation in either direction.
// Tokens shorter than 3 runes must match an entry exactly, so articles
// like "a" or "do" don't ride along inside longer vocabulary words.
func matchesVocabulary(lower string) bool {
	short := utf8.RuneCountInString(lower) < 3
	for _, entry := range vocabulary {
		if short {
			if lower == entry {
				return true
			}
			continue
		}
		if strings.Contains(lower, entry) || strings.Contains(entry, lower) {
			return true
		}
	}
	return false
}
