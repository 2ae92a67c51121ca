package cdpcontrol

import "encoding/json"

// Every page script is wrapped in an IIFE that returns a JSON string shaped
// {ok, data, error_code, error_message}. Thrown errors become EVAL_FAILURE.

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return "(function(){\n" + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

