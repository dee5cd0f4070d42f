// Package backendserver implements the per-backend HTTP(S) server: static
// document-root serving with hot-reload script injection, a small REST API,
// a bounded file-upload endpoint, and the hot-reload WebSocket, all bound
// to one allocated port (plus its HTTPS twin) the way the original per-site
// server did.
package backendserver

import (
	"fmt"
	"html"
	"strings"
)

// hotReloadSnippet is injected into every served HTML document so the
// browser reconnects its hot-reload socket on file changes. {{WS_PATH}} is
// replaced with the server's WebSocket path; the ws/wss scheme is chosen
// in the browser from location.protocol.
const hotReloadSnippet = `<script>
(function() {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var sock = new WebSocket(proto + "//" + location.host + "{{WS_PATH}}");
  sock.onmessage = function() { location.reload(); };
})();
</script>
`

// TemplateValues holds the small closed set of placeholders substituted
// into served HTML, each HTML-escaped before substitution. No
// JavaScript-string escaping is applied, including for placeholders that
// sit inside <script> blocks.
type TemplateValues struct {
	ServerName      string
	Port            int
	ProxyHTTPPort   int
	ProxyHTTPSPort  int
}

// substituteTemplates replaces {{SERVER_NAME}}, {{PORT}},
// {{PROXY_HTTP_PORT}}, and {{PROXY_HTTPS_PORT}} in body with HTML-escaped
// values. Only this closed set is recognized; anything else spelled
// "{{...}}" in served content is left untouched.
func substituteTemplates(body []byte, v TemplateValues) []byte {
	replacer := strings.NewReplacer(
		"{{SERVER_NAME}}", html.EscapeString(v.ServerName),
		"{{PORT}}", html.EscapeString(fmt.Sprintf("%d", v.Port)),
		"{{PROXY_HTTP_PORT}}", html.EscapeString(fmt.Sprintf("%d", v.ProxyHTTPPort)),
		"{{PROXY_HTTPS_PORT}}", html.EscapeString(fmt.Sprintf("%d", v.ProxyHTTPSPort)),
	)
	return []byte(replacer.Replace(string(body)))
}

// injectHotReload inserts the hot-reload bootstrap snippet before </body>,
// or appends it if the document has no closing body tag.
func injectHotReload(body []byte, wsPath string) []byte {
	snippet := strings.ReplaceAll(hotReloadSnippet, "{{WS_PATH}}", wsPath)
	doc := string(body)
	const marker = "</body>"
	if idx := strings.LastIndex(strings.ToLower(doc), marker); idx >= 0 {
		return []byte(doc[:idx] + snippet + doc[idx:])
	}
	return []byte(doc + snippet)
}
