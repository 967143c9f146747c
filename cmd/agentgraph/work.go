package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentgraph/internal/app"
	"agentgraph/internal/domain"
	"agentgraph/internal/taskgraph"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items := a.Engine.ListProjects()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Slug", "Name", "Status", "Tokens", "Cost (cents)"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Slug, p.Name, p.Status, p.TotalTokensUsed, p.TotalCostCents})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var in taskgraph.ProjectInput
	var mode string
	var use bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Mode = domain.ProjectMode(mode)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.CreateProject(ctx, in, actorID())
				if err != nil {
					return err
				}
				if use {
					if err := app.SetEnvValue(a.Workspace, "AGENTGRAPH_PROJECT", p.Slug); err != nil {
						return err
					}
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "project name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&mode, "mode", "", "mode (local, github, hybrid)")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&use, "use", false, "select the new project as default")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|slug]",
		Short: "Show project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, firstArg(args))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, status string
	var tags []string
	cmd := &cobra.Command{
		Use:   "update [id|slug]",
		Short: "Update project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := taskgraph.ProjectPatch{
				Name:        optionalString(cmd, "name", name),
				Description: optionalString(cmd, "description", desc),
			}
			if cmd.Flags().Changed("status") {
				s := domain.ProjectStatus(status)
				patch.Status = &s
			}
			if cmd.Flags().Changed("tag") {
				patch.Tags = tags
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, firstArg(args))
				if err != nil {
					return err
				}
				p, err = a.Engine.UpdateProject(ctx, p.ID, patch, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (planning, active, on_hold, completed, archived, cancelled)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|slug>",
		Short: "Delete project with its tasks and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.ResolveProject(args[0])
				if err != nil {
					return err
				}
				removed, err := a.Engine.DeleteProject(ctx, p.ID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project_id": p.ID, "tasks": removed.Tasks, "artifacts": removed.Artifacts})
				}
				fmt.Printf("deleted project %s (%d tasks, %d artifacts)\n", p.Slug, len(removed.Tasks), len(removed.Artifacts))
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id|slug>",
		Short: "Set the default project in .env",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.ResolveProject(args[0])
				if err != nil {
					return err
				}
				if err := app.SetEnvValue(a.Workspace, "AGENTGRAPH_PROJECT", p.Slug); err != nil {
					return err
				}
				fmt.Printf("Default project set to %s in %s\n", p.Slug, app.EnvPath(a.Workspace))
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow backlog -> todo -> in_progress -> review -> done. A task cannot leave backlog or todo while any dependency is unfinished; blocked and archived are side exits.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskDependCmd())
	task.AddCommand(taskUndependCmd())
	task.AddCommand(taskReadyCmd())
	task.AddCommand(taskBlockingCmd())
	task.AddCommand(taskAttemptCmd())
	task.AddCommand(taskSubtaskCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var in taskgraph.TaskInput
	var priority string
	var estimate int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = domain.TaskPriority(priority)
			in.EstimatedMinutes = optionalInt(cmd, "estimate", estimate)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, "")
				if err != nil {
					return err
				}
				in.ProjectID = p.ID
				t, err := a.Engine.CreateTask(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&in.AssignedAgentID, "assignee", "", "assigned agent id")
	cmd.Flags().StringArrayVar(&in.Dependencies, "depends-on", nil, "dependency task id (repeatable)")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "estimated minutes")
	cmd.Flags().IntVar(&in.MaxAttempts, "max-attempts", 0, "attempt budget (0 uses config)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, "")
				if err != nil {
					return err
				}
				tasks := a.Engine.ListTasks(taskgraph.TaskFilter{
					ProjectID:       p.ID,
					Status:          domain.TaskStatus(status),
					AssignedAgentID: assignee,
				})
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assigned agent filter")
	return cmd
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee", "Depends on"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.AssignedAgentID, strings.Join(t.Dependencies, ",")})
	}
	tw.Render()
	return nil
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, priority, assignee string
	var tags []string
	var estimate int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := taskgraph.TaskPatch{
				Title:            optionalString(cmd, "title", title),
				Description:      optionalString(cmd, "description", desc),
				AssignedAgentID:  optionalString(cmd, "assignee", assignee),
				EstimatedMinutes: optionalInt(cmd, "estimate", estimate),
			}
			if cmd.Flags().Changed("priority") {
				pr := domain.TaskPriority(priority)
				patch.Priority = &pr
			}
			if cmd.Flags().Changed("tag") {
				patch.Tags = tags
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, args[0], patch, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assigned agent id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "estimated minutes")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move task to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTaskStatus(ctx, args[0], domain.TaskStatus(args[1]), actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDependCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "depend <id> <depends-on-id>",
		Short: "Add a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.AddDependency(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskUndependCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undepend <id> <depends-on-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.RemoveDependency(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List tasks that can start now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, "")
				if err != nil {
					return err
				}
				tasks, err := a.Engine.ReadyTasks(p.ID)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskBlockingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocking <id>",
		Short: "List unfinished dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.BlockingTasks(args[0])
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
}

func taskAttemptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attempt <id>",
		Short: "Record an execution attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.RecordAttempt(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskSubtaskCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subtask", Short: "Manage subtasks"}
	sub.AddCommand(&cobra.Command{
		Use:   "add <task-id> <title>",
		Short: "Add a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.AddSubtask(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "done <task-id> <subtask-id>",
		Short: "Complete a subtask",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CompleteSubtask(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	return sub
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				removed, err := a.Engine.DeleteTask(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"tasks": removed.Tasks, "artifacts": removed.Artifacts, "unlinked": removed.TouchedTasks})
			})
		},
	}
}

func artifactCmd() *cobra.Command {
	art := &cobra.Command{
		Use:   "artifact",
		Short: "Manage task artifacts",
		Long:  "Artifacts are task outputs. Content edits bump the version; review moves draft -> pending -> approved or rejected.",
	}
	art.AddCommand(artifactCreateCmd())
	art.AddCommand(artifactListCmd())
	art.AddCommand(artifactGetCmd())
	art.AddCommand(artifactEditCmd())
	art.AddCommand(artifactSubmitCmd())
	art.AddCommand(artifactReviewCmd())
	art.AddCommand(artifactSupersedeCmd())
	art.AddCommand(artifactDeleteCmd())
	return art
}

func artifactCreateCmd() *cobra.Command {
	var in taskgraph.ArtifactInput
	var typ, file string
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Create an artifact draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.TaskID = args[0]
			in.Type = domain.ArtifactType(typ)
			if in.CreatorAgentID == "" {
				in.CreatorAgentID = actorID()
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				in.Content = string(data)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.CreateArtifact(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "artifact name")
	cmd.Flags().StringVar(&typ, "type", "", "type (code, document, image, data, config, test, log, other)")
	cmd.Flags().StringVar(&in.Content, "content", "", "inline content")
	cmd.Flags().StringVar(&file, "file", "", "read content from file")
	cmd.Flags().StringVar(&in.MimeType, "mime-type", "", "mime type")
	cmd.Flags().StringVar(&in.CreatorAgentID, "creator", "", "creator agent id (defaults to --actor-id)")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func artifactListCmd() *cobra.Command {
	var taskID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				f := taskgraph.ArtifactFilter{TaskID: taskID, Status: domain.ArtifactStatus(status)}
				if taskID == "" {
					p, err := currentProject(a, "")
					if err != nil {
						return err
					}
					f.ProjectID = p.ID
				}
				items := a.Engine.ListArtifacts(f)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Name", "Type", "Version", "Status"})
				for _, art := range items {
					tw.AppendRow(table.Row{art.ID, art.TaskID, art.Name, art.Type, art.Version, art.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func artifactGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.GetArtifact(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
}

func artifactEditCmd() *cobra.Command {
	var content, file string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace artifact content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(data)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.UpdateArtifactContent(ctx, args[0], content, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "inline content")
	cmd.Flags().StringVar(&file, "file", "", "read content from file")
	return cmd
}

func artifactSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit artifact for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.SubmitArtifact(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
}

func artifactReviewCmd() *cobra.Command {
	var reject bool
	var comments string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve (default) or reject a pending artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.ReviewArtifact(ctx, args[0], !reject, actorID(), comments)
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&comments, "comments", "", "review comments")
	return cmd
}

func artifactSupersedeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supersede <id>",
		Short: "Mark an approved artifact superseded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				art, err := a.Engine.SupersedeArtifact(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(art)
			})
		},
	}
}

func artifactDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteArtifact(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
