package aireview

import "fmt"

const systemPrompt = `You are a precise code reviewer. Return ONLY valid JSON with key 'findings' as an array. Each finding: {file, severity in [info,low,medium,high], title, rationale, start_line, end_line, patch(optional)}. If nothing to add, return {"findings": []}.`

func userPrompt(repo, path, snippet string) string {
	return fmt.Sprintf(`Repository: %s
File: %s

Changed code (snippet):
<<<CODE
%s
>>>

If you propose a change, add a minimal unified diff in 'patch'. Keep it small and accurate.`, repo, path, snippet)
}
