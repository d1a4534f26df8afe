package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ReadTextActivity)
	w.RegisterActivity(a.BuildPromptActivity)
	w.RegisterActivity(a.LLMGenerateActivity)
	w.RegisterActivity(a.LogLLMCallActivity)
	w.RegisterActivity(a.FinishDocumentActivity)
	w.RegisterActivity(a.FailDocumentActivity)
	w.RegisterActivity(a.SweepStuckDocumentsActivity)
}
