package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docgen-backend/internal/bootstrap"
	"docgen-backend/internal/compose"
	"docgen-backend/internal/gateway"
	"docgen-backend/internal/pipeline"
	"docgen-backend/internal/profile"
	"docgen-backend/internal/queue"
	"docgen-backend/internal/shared/config"
	"docgen-backend/internal/tasks"
	"docgen-backend/internal/workerproc"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run one generation task synchronously",
	Long:  "Reads a resume and an optional job description from disk, runs every pipeline stage in-process and prints the task as JSON. Artifacts are written to --out.",
	RunE:  runGenerate,
}

var (
	genResumeFile string
	genJobFile    string
	genDocType    string
	genTone       string
	genSkills     string
	genExperience string
	genName       string
	genOutputDir  string
)

const cliSubjectID = "local"

func init() {
	generateCmd.Flags().StringVarP(&genResumeFile, "resume", "r", "", "Path to the resume (pdf, docx or text)")
	generateCmd.Flags().StringVarP(&genJobFile, "job", "j", "", "Path to a job description text file (optional)")
	generateCmd.Flags().StringVarP(&genDocType, "doc-type", "d", string(compose.CoverLetter), "cover_letter, resume or follow_up_email")
	generateCmd.Flags().StringVarP(&genTone, "tone", "t", "", "Writing tone")
	generateCmd.Flags().StringVar(&genSkills, "skills", "", "Additional skills to mention")
	generateCmd.Flags().StringVar(&genExperience, "experience", "", "Additional experience to mention")
	generateCmd.Flags().StringVarP(&genName, "name", "n", "", "Candidate name (defaults to the resume's first line)")
	generateCmd.Flags().StringVarP(&genOutputDir, "out", "o", "./out", "Directory for generated artifacts")
	_ = generateCmd.MarkFlagRequired("resume")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	docType, err := compose.ParseDocType(genDocType)
	if err != nil {
		return err
	}
	resume, err := os.ReadFile(genResumeFile)
	if err != nil {
		return fmt.Errorf("read resume: %w", err)
	}
	var jobDescription string
	if genJobFile != "" {
		raw, err := os.ReadFile(genJobFile)
		if err != nil {
			return fmt.Errorf("read job description: %w", err)
		}
		jobDescription = string(raw)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.TaskStore = "memory"
	cfg.ObjectStoreType = "local"
	cfg.LocalStoreDir = genOutputDir
	cfg.PublicBaseURL = ""
	if !cfg.IsDevLike() {
		cfg.Env = "local"
	}

	ctx := cmd.Context()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{SkipRouter: true, SkipQueue: true})
	if err != nil {
		return err
	}
	defer app.Close()

	params := tasks.Params{
		SubjectID:      cliSubjectID,
		JobDescription: jobDescription,
		Tone:           genTone,
		DocType:        docType,
		Skills:         genSkills,
		Experience:     genExperience,
	}
	task, err := generateLocal(ctx, app.Executor, app.Tasks, profile.Profile{Name: genName}, resume, params)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(task); err != nil {
		return err
	}
	if task.Failure != nil {
		return fmt.Errorf("task failed: %s: %s", task.Failure.Code, task.Failure.Error)
	}
	return nil
}

// generateLocal submits params through the task service and runs the queued
// message on exec, serving the profile from memory.
func generateLocal(ctx context.Context, exec *pipeline.Executor, repo tasks.Repo, p profile.Profile, resume []byte, params tasks.Params) (tasks.Task, error) {
	static := gateway.NewStatic()
	p.SubjectID = params.SubjectID
	p.Name = strings.TrimSpace(p.Name)
	p.Resume = profile.Resume{Content: resume}
	static.PutProfile(p)

	local := *exec
	local.Tasks = repo
	local.Profiles = static
	local.Jobs = static

	mem := queue.NewMemoryQueue(1)
	defer mem.Close()
	svc := tasks.NewService(repo, mem)
	task, err := svc.Submit(ctx, params)
	if err != nil {
		return tasks.Task{}, err
	}

	select {
	case msg := <-mem.Messages():
		if err := workerproc.Handle(ctx, &local, msg); err != nil {
			return tasks.Task{}, err
		}
	case <-ctx.Done():
		return tasks.Task{}, ctx.Err()
	}
	return svc.Get(ctx, task.ID)
}
