package backendserver

import (
	"strings"
	"testing"
)

func TestSubstituteTemplatesReplacesKnownPlaceholders(t *testing.T) {
	in := []byte(`<p>{{SERVER_NAME}} on {{PORT}} via {{PROXY_HTTP_PORT}}/{{PROXY_HTTPS_PORT}}</p>`)
	out := substituteTemplates(in, TemplateValues{
		ServerName: "site-a", Port: 9001, ProxyHTTPPort: 8080, ProxyHTTPSPort: 8443,
	})
	got := string(out)
	if !strings.Contains(got, "site-a on 9001 via 8080/8443") {
		t.Fatalf("unexpected output: %s", got)
	}
}

func TestSubstituteTemplatesEscapesHTML(t *testing.T) {
	in := []byte(`<p>{{SERVER_NAME}}</p>`)
	out := substituteTemplates(in, TemplateValues{ServerName: `<script>alert(1)</script>`})
	if strings.Contains(string(out), "<script>alert(1)</script>") {
		t.Fatalf("expected server name to be escaped, got %s", out)
	}
}

func TestInjectHotReloadBeforeClosingBody(t *testing.T) {
	in := []byte("<html><body>hi</body></html>")
	out := injectHotReload(in, "/ws/hot-reload")
	got := string(out)
	if !strings.Contains(got, "/ws/hot-reload") {
		t.Fatalf("expected ws path in output: %s", got)
	}
	if strings.Index(got, "WebSocket") > strings.Index(got, "</body>") {
		t.Fatalf("expected snippet injected before </body>: %s", got)
	}
}

func TestInjectHotReloadAppendsWithoutClosingBody(t *testing.T) {
	in := []byte("<html>no body tag")
	out := injectHotReload(in, "/ws/hot-reload")
	if !strings.Contains(string(out), "/ws/hot-reload") {
		t.Fatalf("expected snippet appended: %s", out)
	}
}
