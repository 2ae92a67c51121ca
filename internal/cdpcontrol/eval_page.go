package cdpcontrol

import "fmt"

// jsVisible is shared by every element lookup: an element counts only when
// it has a non-empty box and is not hidden by CSS.
const jsVisible = `
function _visible(el) {
  if (!el || !el.getBoundingClientRect) return false;
  var r = el.getBoundingClientRect();
  if (r.width <= 0 || r.height <= 0) return false;
  var st = window.getComputedStyle(el);
  return st.visibility !== "hidden" && st.display !== "none" && st.opacity !== "0";
}
function _box(el, family) {
  var r = el.getBoundingClientRect();
  var t = (el.textContent || "").replace(/\s+/g, " ").trim();
  if (t.length > 80) t = t.slice(0, 80);
  return {family: family || "", text: t, x: r.left, y: r.top, width: r.width, height: r.height};
}
function _ok(data) { return JSON.stringify({ok:true,data:data}); }
function _fail(code, msg) { return JSON.stringify({ok:false,error_code:code,error_message:msg}); }
`

func jsReadyState() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{state:document.readyState}});`)
}

func jsCurrentURL() string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:{url:String(location.href)}});`)
}

func jsContent() string {
	return wrapJSEval(`var el = document.documentElement;
return JSON.stringify({ok:true,data:{html: el ? el.outerHTML : ""}});`)
}

func jsVisibleText() string {
	return wrapJSEval(`var b = document.body;
return JSON.stringify({ok:true,data:{text: b ? b.innerText : ""}});`)
}

func jsExists(selectors []string) string {
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var sels = %s;
for (var i = 0; i < sels.length; i++) {
  var list;
  try { list = document.querySelectorAll(sels[i]); } catch (_) { continue; }
  for (var j = 0; j < list.length; j++) {
    if (_visible(list[j])) return _ok({selector: sels[i]});
  }
}
return _ok({selector: ""});`, jsJSON(selectors)))
}

func jsFocusAndClear(selector string) string {
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var list = document.querySelectorAll(%s);
var el = null;
for (var i = 0; i < list.length; i++) { if (_visible(list[i])) { el = list[i]; break; } }
if (!el) return _fail(%q, "no visible element for " + %s);
el.scrollIntoView({block:"center"});
el.focus();
if ("value" in el) {
  var proto = Object.getPrototypeOf(el);
  var desc = Object.getOwnPropertyDescriptor(proto, "value");
  if (desc && desc.set) desc.set.call(el, ""); else el.value = "";
  el.dispatchEvent(new Event("input", {bubbles:true}));
}
return _ok({});`, jsString(selector), CodeElementNotFound, jsString(selector)))
}

func jsBoxForSelector(selector string) string {
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var list = document.querySelectorAll(%s);
for (var i = 0; i < list.length; i++) {
  if (!_visible(list[i])) continue;
  list[i].scrollIntoView({block:"center"});
  return _ok(_box(list[i], "selector"));
}
return _fail(%q, "no visible element for " + %s);`, jsString(selector), CodeElementNotFound, jsString(selector)))
}

func jsBoxForText(tag, label string) string {
	if tag == "" {
		tag = "*"
	}
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var want = %s.toLowerCase();
var list = document.querySelectorAll(%s);
var partial = null;
for (var i = 0; i < list.length; i++) {
  var el = list[i];
  if (!_visible(el)) continue;
  var t = (el.textContent || "").replace(/\s+/g, " ").trim().toLowerCase();
  if (t === want) { el.scrollIntoView({block:"center"}); return _ok(_box(el, "text")); }
  if (!partial && t.length <= want.length + 24 && t.indexOf(want) >= 0) partial = el;
}
if (partial) { partial.scrollIntoView({block:"center"}); return _ok(_box(partial, "text")); }
return _fail(%q, "no visible element with text " + %s);`, jsString(label), jsString(tag), CodeElementNotFound, jsString(label)))
}

// jsFindPriceElements tries each selector family in order and returns up to
// limit visible, plausibly sized boxes for the first family with any hits.
// Containers with long text are skipped so a whole table never matches.
func jsFindPriceElements(priceText string, families []string, minW, minH float64, limit int) string {
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var price = %s, fams = %s, minW = %v, minH = %v, limit = %d;
for (var f = 0; f < fams.length; f++) {
  var list;
  try { list = document.querySelectorAll(fams[f]); } catch (_) { continue; }
  var hits = [];
  for (var i = 0; i < list.length && hits.length < limit; i++) {
    var el = list[i];
    var t = (el.textContent || "").replace(/\s+/g, " ").trim();
    if (t.indexOf(price) < 0 || t.length > 300) continue;
    if (!_visible(el)) continue;
    hits.push(el);
  }
  if (!hits.length) continue;
  hits[0].scrollIntoView({block:"center"});
  var boxes = [];
  for (var k = 0; k < hits.length; k++) {
    var b = _box(hits[k], fams[f]);
    if (b.width >= minW && b.height >= minH) boxes.push(b);
  }
  if (boxes.length) return _ok({boxes: boxes});
}
return _ok({boxes: []});`, jsString(priceText), jsJSON(families), minW, minH, limit))
}

// jsScanClickText is the last-resort locator: a full walk for an element
// whose own trimmed text is exactly the price, clicked in-page.
func jsScanClickText(priceText string) string {
	return wrapJSEval(jsVisible + fmt.Sprintf(`
var price = %s;
var all = document.querySelectorAll("div,span,button,td,a,p");
for (var i = 0; i < all.length; i++) {
  var el = all[i];
  if ((el.textContent || "").trim() !== price) continue;
  if (!_visible(el)) continue;
  el.scrollIntoView({block:"center"});
  var target = el.closest("[role=row],[role=button],tr,button,a") || el;
  var b = _box(el, "scan");
  target.click();
  return _ok({clicked:true, tag:target.tagName.toLowerCase(), text:b.text, x:b.x + b.width/2, y:b.y + b.height/2});
}
return _ok({clicked:false});`, jsString(priceText)))
}

// jsLabeledValues finds leaf elements whose text equals a label and reads the
// value shown beside them: the next sibling, else the parent's remaining
// text.
func jsLabeledValues(labels []string) string {
	return wrapJSEval(fmt.Sprintf(`
var labels = %s;
var wanted = {};
for (var i = 0; i < labels.length; i++) wanted[labels[i].toLowerCase()] = labels[i];
var out = {};
var norm = function(s) { return (s || "").replace(/\s+/g, " ").trim(); };
var nodes = document.querySelectorAll("span,div,dt,th,td,label,p,h3,h4");
for (var j = 0; j < nodes.length; j++) {
  var el = nodes[j];
  if (el.children.length > 1) continue;
  var key = norm(el.textContent).replace(/:$/, "").toLowerCase();
  var label = wanted[key];
  if (!label || out[label] !== undefined) continue;
  var val = "";
  var sib = el.nextElementSibling;
  if (sib) val = norm(sib.textContent);
  if (!val && el.parentElement) {
    var whole = norm(el.parentElement.textContent);
    var own = norm(el.textContent);
    var idx = whole.indexOf(own);
    if (idx >= 0) val = norm(whole.slice(idx + own.length));
  }
  if (val && val.length <= 64) out[label] = val;
}
return JSON.stringify({ok:true,data:out});`, jsJSON(labels)))
}
