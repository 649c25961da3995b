package judge

// EvaluationPrompt is the rubric sent to the judge model. The three %s verbs
// receive the user input, the actual response and the expected behaviour,
// embedded verbatim.
const EvaluationPrompt = `
You are an expert judge evaluating the responses of AI assistants.
Your task is to decide whether the Actual Response meets the Expected Behavior, given the User Query.

### Input
- **User Query**: "%s"
- **Actual Response**: "%s"
- **Expected Behavior**: "%s"

### Instructions
1. Analyze whether the response satisfies the requirements of the expected behavior.
2. Give a score from 0 to 10.
3. Decide whether it passed (passed: true if score >= 7).
4. Give brief feedback justifying the score.

### Required Output (valid JSON only)
{
  "passed": boolean,
  "score": number,
  "feedback": string
}
`
