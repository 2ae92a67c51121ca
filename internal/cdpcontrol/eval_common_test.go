package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON(map[string]any{"a": 1, "b": true})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("jsJSON decoded map has %d fields, want 2", len(m))
	}
	if m["b"] != true {
		t.Fatalf("jsJSON decoded map = %v, want b=true", m["b"])
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	if !strings.Contains(syncExpr, `error_code:"`+CodeEvalFailure+`"`) {
		t.Fatalf("wrapper missing %s catch: %s", CodeEvalFailure, syncExpr)
	}
}

func TestPageScriptsEmbedArgumentsSafely(t *testing.T) {
	js := jsFindPriceElements(`$0.08`, []string{`tr`, `[role="row"]`}, 20, 8, 3)
	for _, want := range []string{`"$0.08"`, `["tr","[role=\"row\"]"]`, "minW = 20", "limit = 3"} {
		if !strings.Contains(js, want) {
			t.Fatalf("jsFindPriceElements missing %q:\n%s", want, js)
		}
	}

	sel := jsBoxForSelector(`input[name="code"]`)
	if !strings.Contains(sel, `"input[name=\"code\"]"`) {
		t.Fatalf("jsBoxForSelector did not quote selector:\n%s", sel)
	}
	if !strings.Contains(sel, `"`+CodeElementNotFound+`"`) {
		t.Fatalf("jsBoxForSelector missing %s error code", CodeElementNotFound)
	}

	text := jsBoxForText("", "Log In")
	if !strings.Contains(text, `querySelectorAll("*")`) {
		t.Fatalf("jsBoxForText with empty tag should match any element:\n%s", text)
	}

	labels := jsLabeledValues([]string{"Bid", "Open interest"})
	if !strings.Contains(labels, `["Bid","Open interest"]`) {
		t.Fatalf("jsLabeledValues missing labels:\n%s", labels)
	}
}
