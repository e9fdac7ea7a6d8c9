package kie

import "encoding/json"

// urlExtractor attempts to pull a result URL out of a task record.
// It returns false when its source field is absent or empty.
type urlExtractor func(TaskRecord) (string, bool)

// urlExtractors is the fixed precedence order for result URL resolution:
// the resultJson blob first, then the nested response object, then the flat
// resultUrls list. Different KIE model families populate different fields;
// the first present source wins.
var urlExtractors = []urlExtractor{
	fromResultJSON,
	fromNestedResponse,
	fromFlatResultURLs,
}

// FirstResultURL resolves the result URL of a task record, trying each
// extraction strategy in precedence order.
func FirstResultURL(rec TaskRecord) (string, bool) {
	for _, extract := range urlExtractors {
		if url, ok := extract(rec); ok {
			return url, true
		}
	}
	return "", false
}

func fromResultJSON(rec TaskRecord) (string, bool) {
	if rec.ResultJSON == "" {
		return "", false
	}
	var blob struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(rec.ResultJSON), &blob); err != nil {
		return "", false
	}
	return firstURL(blob.ResultURLs)
}

func fromNestedResponse(rec TaskRecord) (string, bool) {
	if rec.Response == nil {
		return "", false
	}
	return firstURL(rec.Response.ResultURLs)
}

func fromFlatResultURLs(rec TaskRecord) (string, bool) {
	return firstURL(rec.ResultURLs)
}

func firstURL(urls []string) (string, bool) {
	if len(urls) == 0 || urls[0] == "" {
		return "", false
	}
	return urls[0], true
}
