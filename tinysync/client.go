package tinysync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// tinyClient talks to the Tiny ERP v2 API. Every call is a form-encoded
// POST carrying the account token and formato=json. Tiny deployments
// disagree on endpoint spelling, so each resource carries an ordered
// fallback list and the first endpoint that answers wins.
type tinyClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *time.Ticker
}

func newTinyClient(token string) (*tinyClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("tiny api token is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("TINY_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.tiny.com.br/api2"
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("TINY_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &tinyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: time.NewTicker(interval),
	}, nil
}

// close releases the rate-limit ticker. A client is built per sync
// invocation, so leaving tickers running would accumulate in the
// long-running service.
func (c *tinyClient) close() {
	c.limiter.Stop()
}

// resource bundles everything endpoint-specific for one Tiny module:
// search/detail endpoint fallbacks, the collection keys the search
// response wraps rows in, and the keys the detail response may use.
type resource struct {
	searchEndpoints []string
	detailEndpoints []string
	pluralKey       string
	singularKey     string
	detailRootKeys  []string
	idKeys          []string
	// financial resources filter by issue/due date in dd/mm/yyyy, the
	// rest by dataAtualizacao in yyyy-mm-dd
	financial bool
	// tag recorded on each fetched row so the mapper can tell
	// receivables from payables
	tinyType string
}

var orderResource = resource{
	searchEndpoints: []string{"pedidos.pesquisa.php", "pedidos.pesquisar.php", "pedido.pesquisa.php"},
	detailEndpoints: []string{"pedido.obter.php", "pedidos.obter.php"},
	pluralKey:       "pedidos",
	singularKey:     "pedido",
	detailRootKeys:  []string{"pedido", "pedidos"},
	idKeys:          []string{"id", "id_pedido", "idPedido", "numero"},
}

var invoiceResource = resource{
	searchEndpoints: []string{"notas.fiscais.pesquisa.php", "nota.fiscal.pesquisa.php", "notas.pesquisa.php"},
	detailEndpoints: []string{"nota.fiscal.obter.php", "notas.fiscais.obter.php"},
	pluralKey:       "notas_fiscais",
	singularKey:     "nota_fiscal",
	detailRootKeys:  []string{"nota_fiscal", "notas_fiscais", "nota"},
	idKeys:          []string{"id", "id_nota_fiscal", "idNotaFiscal", "numero"},
}

var receivableResource = resource{
	searchEndpoints: []string{"contas.receber.pesquisa.php", "conta.receber.pesquisa.php"},
	detailEndpoints: []string{"conta.receber.obter.php", "contas.receber.obter.php"},
	pluralKey:       "contas",
	singularKey:     "conta",
	detailRootKeys:  []string{"conta", "contas", "titulo"},
	idKeys:          []string{"id", "id_conta", "idConta", "documento", "numero"},
	financial:       true,
	tinyType:        "receber",
}

var payableResource = resource{
	searchEndpoints: []string{"contas.pagar.pesquisa.php", "conta.pagar.pesquisa.php"},
	detailEndpoints: []string{"conta.pagar.obter.php", "contas.pagar.obter.php"},
	pluralKey:       "contas",
	singularKey:     "conta",
	detailRootKeys:  []string{"conta", "contas", "titulo"},
	idKeys:          []string{"id", "id_conta", "idConta", "documento", "numero"},
	financial:       true,
	tinyType:        "pagar",
}

type searchParams struct {
	page       int
	pageSize   int
	updateFrom string // yyyy-mm-dd
}

func (c *tinyClient) post(ctx context.Context, endpoint string, form url.Values) (map[string]interface{}, error) {
	<-c.limiter.C
	form.Set("token", c.token)
	form.Set("formato", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tiny %s: status %d", endpoint, resp.StatusCode)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("tiny %s: decode response: %w", endpoint, err)
	}
	if root, ok := payload["retorno"].(map[string]interface{}); ok {
		if status, ok := root["status"].(string); ok && strings.EqualFold(status, "Erro") {
			return nil, fmt.Errorf("tiny %s: %s", endpoint, tinyErrorMessage(root))
		}
		return root, nil
	}
	return payload, nil
}

func tinyErrorMessage(root map[string]interface{}) string {
	if erros, ok := root["erros"].([]interface{}); ok && len(erros) > 0 {
		if e, ok := erros[0].(map[string]interface{}); ok {
			if msg, ok := e["erro"].(string); ok {
				return msg
			}
		}
		if msg, ok := erros[0].(string); ok {
			return msg
		}
	}
	if cod, ok := root["codigo_erro"]; ok {
		return fmt.Sprintf("api error (codigo_erro %v)", cod)
	}
	return "api error"
}

// postWithFallback tries each endpoint in order and keeps the first
// non-error response. All endpoints failing returns the last error.
func (c *tinyClient) postWithFallback(ctx context.Context, endpoints []string, form url.Values) (map[string]interface{}, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		clone := url.Values{}
		for k, v := range form {
			clone[k] = v
		}
		root, err := c.post(ctx, endpoint, clone)
		if err == nil {
			return root, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// searchPage fetches one page of summaries for the resource. Returns the
// unwrapped rows, each tagged with the resource's tinyType when set.
func (c *tinyClient) searchPage(ctx context.Context, res resource, params searchParams) ([]map[string]interface{}, error) {
	form := url.Values{}
	form.Set("pagina", strconv.Itoa(params.page))
	if params.pageSize > 0 {
		form.Set("limite", strconv.Itoa(params.pageSize))
	}
	if params.updateFrom != "" {
		if res.financial {
			br := toBRDate(params.updateFrom)
			form.Set("data_ini_emissao", br)
			form.Set("data_ini_vencimento", br)
		} else {
			form.Set("dataAtualizacao", params.updateFrom)
			form.Set("dataInicial", params.updateFrom)
		}
	}

	root, err := c.postWithFallback(ctx, res.searchEndpoints, form)
	if err != nil {
		return nil, err
	}
	rows := unwrapCollection(root, res.pluralKey, res.singularKey)
	if res.tinyType != "" {
		for _, row := range rows {
			if _, ok := row["tipo"]; !ok {
				row["tipo"] = res.tinyType
			}
		}
	}
	return rows, nil
}

// unwrapCollection digs the row list out of a search response. The list
// may sit directly under the plural key, be nested one level deeper, or
// wrap each row in the singular key.
func unwrapCollection(root map[string]interface{}, pluralKey, singularKey string) []map[string]interface{} {
	raw, ok := root[pluralKey]
	if !ok {
		return nil
	}
	if nested, ok := raw.(map[string]interface{}); ok {
		raw = nested[pluralKey]
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if inner, ok := m[singularKey].(map[string]interface{}); ok {
			out = append(out, inner)
			continue
		}
		out = append(out, m)
	}
	return out
}

// fetchDetail upgrades a search summary to the full record. Any failure
// degrades back to the summary so the sync keeps moving.
func (c *tinyClient) fetchDetail(ctx context.Context, res resource, summary map[string]interface{}) map[string]interface{} {
	id := resolveDetailId(summary, res.idKeys)
	if id == "" {
		return summary
	}
	form := url.Values{}
	form.Set("id", id)
	root, err := c.postWithFallback(ctx, res.detailEndpoints, form)
	if err != nil {
		return summary
	}
	for _, key := range res.detailRootKeys {
		if detail, ok := root[key].(map[string]interface{}); ok {
			if res.tinyType != "" {
				if _, present := detail["tipo"]; !present {
					detail["tipo"] = res.tinyType
				}
			}
			return detail
		}
	}
	return summary
}

// resolveDetailId probes the summary for an id under the known key
// spellings, including camel/snake/upper variants and the usual nested
// containers.
func resolveDetailId(summary map[string]interface{}, idKeys []string) string {
	candidates := []map[string]interface{}{summary}
	for _, container := range []string{"pedido", "nota_fiscal", "nota", "conta", "titulo"} {
		if inner, ok := summary[container].(map[string]interface{}); ok {
			candidates = append(candidates, inner)
		}
	}
	for _, m := range candidates {
		for _, key := range idKeys {
			for _, variant := range keyVariants(key) {
				if v, ok := m[variant]; ok {
					if s := idToString(v); s != "" {
						return s
					}
				}
			}
		}
	}
	return ""
}

func keyVariants(key string) []string {
	variants := []string{key, strings.ToLower(key), strings.ToUpper(key)}
	if strings.Contains(key, "_") {
		parts := strings.Split(key, "_")
		camel := parts[0]
		for _, p := range parts[1:] {
			if p == "" {
				continue
			}
			camel += strings.ToUpper(p[:1]) + p[1:]
		}
		variants = append(variants, camel)
	}
	return variants
}

func idToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	}
	return ""
}

// toBRDate converts yyyy-mm-dd to dd/mm/yyyy, which is what the
// financial search endpoints expect.
func toBRDate(iso string) string {
	parts := strings.Split(iso, "-")
	if len(parts) != 3 {
		return iso
	}
	return parts[2] + "/" + parts[1] + "/" + parts[0]
}
