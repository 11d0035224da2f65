// Command promptexec validates and renders prompt templates, inspects tier
// policies, runs prompts down the tier ladder, and serves prompt execution as
// a Temporal worker.
package main

func main() {
	Execute()
}
