package xlsximport

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FieldAliases maps each canonical transaction field to the accepted column
// spellings, in priority order. Spellings mirror the pt-BR vocabulary seen in
// customer spreadsheets; matching happens on normalized keys, so accents and
// punctuation in the sheet do not matter.
var FieldAliases = map[string][]string{
	"date": {
		"date",
		"data",
		"dataPedido",
		"dataPedidoVenda",
		"dataCriacao",
		"dataEmissao",
		"dataLancamento",
		"dataDocumento",
		"dataCompetencia",
		"competencia",
		"periodo",
	},
	"accrualDate": {"accrualDate", "dataCompetencia", "competencia", "competenciaData"},
	"debit":       {"debit", "debito", "contaDebito", "contaEntrada"},
	"credit": {
		"credit",
		"credito",
		"contaCredito",
		"contaSaida",
		"contaGerencial",
		"contaResultado",
		"planoConta",
		"pcg",
		"categoria",
	},
	"amount":   {"amount", "valor", "total"},
	"currency": {"currency", "moeda"},
	"origin":   {"origin", "origem", "fonte"},
	"memo": {
		"memo",
		"descricao",
		"historico",
		"observacao",
		"descricaoItem",
		"cliente",
		"fornecedor",
		"produto",
	},
	"sourceRef": {"sourceRef", "referencia", "documento", "numero", "pedido", "nota", "titulo", "id"},
}

// amountContainsPatterns is the substring fallback used only for amount
// recovery when no exact alias matches.
var amountContainsPatterns = []string{
	"valortotal",
	"totalliquido",
	"valorliquido",
	"valorfaturado",
	"valorrecebido",
	"valorpago",
	"valorpedido",
	"valorservico",
	"valorproduto",
	"bruto",
	"pedido",
	"nota",
	"valor",
	"total",
}

// AmountContainsPatterns exposes the fallback pattern list in priority order.
func AmountContainsPatterns() []string {
	return amountContainsPatterns
}

var keyNormalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeKey reduces an arbitrary human-entered column name to a canonical
// lookup key: diacritics stripped, lower-cased, non-alphanumerics removed.
func NormalizeKey(key string) string {
	stripped, _, err := transform.String(keyNormalizer, key)
	if err != nil {
		stripped = key
	}
	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeRow rewrites a record's keys through NormalizeKey.
func NormalizeRow(row map[string]any) map[string]any {
	normalized := make(map[string]any, len(row))
	for key, value := range row {
		normalized[NormalizeKey(key)] = value
	}
	return normalized
}

// Lookup returns the first non-empty value found following alias priority
// order. Keys in row must already be normalized.
func Lookup(row map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if value, ok := row[NormalizeKey(alias)]; ok && !isEmptyValue(value) {
			return value, true
		}
	}
	return nil, false
}

// LookupContains scans column names for substrings. Used only to recover an
// amount when no exact alias matched.
func LookupContains(row map[string]any, patterns []string) (any, bool) {
	for _, pattern := range patterns {
		for key, value := range row {
			if strings.Contains(key, pattern) && !isEmptyValue(value) {
				return value, true
			}
		}
	}
	return nil, false
}

// ResolveAccount keeps the first account when the cell carries several
// separated by ';', ',' or '|'; empty cells fall back to the default.
func ResolveAccount(value any, defaultAccount string) string {
	if isEmptyValue(value) {
		return defaultAccount
	}
	raw := strings.FieldsFunc(toString(value), func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			return trimmed
		}
	}
	return defaultAccount
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
