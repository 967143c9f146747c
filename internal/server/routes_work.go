package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agentgraph/internal/domain"
	"agentgraph/internal/engine"
	"agentgraph/internal/stats"
	"agentgraph/internal/taskgraph"
)

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func respond[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		p, err := e.CreateProject(ctx, input.Body.input(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*bodyOutput[[]domain.Project], error) {
		return respond(nonNilSlice(e.ListProjects())), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project by id or slug",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*bodyOutput[domain.Project], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*bodyOutput[domain.Project], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err = e.UpdateProject(ctx, p.ID, input.Body.patch(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project with its tasks and artifacts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*bodyOutput[RemovedResponse], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		removed, err := e.DeleteProject(ctx, p.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(removedResponse(removed)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Project statistics",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*bodyOutput[stats.ProjectStats], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.ProjectStats(p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, input.Body.input(p.ID), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List project tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID       string `path:"project_id"`
		Status          string `query:"status" enum:"backlog,todo,in_progress,review,done,blocked,archived"`
		AssignedAgentID string `query:"assigned_agent_id"`
	}) (*bodyOutput[[]domain.Task], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		items := e.ListTasks(taskgraph.TaskFilter{
			ProjectID:       p.ID,
			Status:          domain.TaskStatus(input.Status),
			AssignedAgentID: input.AssignedAgentID,
		})
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/ready",
		Summary:     "Tasks whose dependencies are all finished",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*bodyOutput[[]domain.Task], error) {
		p, err := e.ResolveProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ReadyTasks(p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.GetTask(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.UpdateTask(ctx, input.TaskID, input.Body.patch(), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task and its artifacts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*bodyOutput[RemovedResponse], error) {
		removed, err := e.DeleteTask(ctx, input.TaskID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(removedResponse(removed)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Change task status",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.SetTaskStatus(ctx, input.TaskID, domain.TaskStatus(input.Body.Status), actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-task-dependency",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/dependencies",
		Summary:     "Add dependency",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   DependencyRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.AddDependency(ctx, input.TaskID, input.Body.DependsOn, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-task-dependency",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}/dependencies/{depends_on}",
		Summary:     "Remove dependency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID    string `path:"task_id"`
		DependsOn string `path:"depends_on"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.RemoveDependency(ctx, input.TaskID, input.DependsOn, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocking-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/blocking",
		Summary:     "Unfinished dependencies of a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*bodyOutput[[]domain.Task], error) {
		items, err := e.BlockingTasks(input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-task-attempt",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/attempts",
		Summary:     "Record an execution attempt",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.RecordAttempt(ctx, input.TaskID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/subtasks",
		Summary:       "Add subtask",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   SubtaskRequest `json:"body"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.AddSubtask(ctx, input.TaskID, input.Body.Title, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-subtask",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/subtasks/{subtask_id}/complete",
		Summary:     "Complete subtask",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID    string `path:"task_id"`
		SubtaskID string `path:"subtask_id"`
	}) (*bodyOutput[domain.Task], error) {
		t, err := e.CompleteSubtask(ctx, input.TaskID, input.SubtaskID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-artifact",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/artifacts",
		Summary:       "Create artifact draft",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string                `path:"task_id"`
		Body   CreateArtifactRequest `json:"body"`
	}) (*bodyOutput[domain.Artifact], error) {
		in := input.Body.input(input.TaskID)
		if in.CreatorAgentID == "" {
			in.CreatorAgentID = actorFromContext(ctx)
		}
		a, err := e.CreateArtifact(ctx, in, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-artifacts",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/artifacts",
		Summary:     "List task artifacts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*bodyOutput[[]domain.Artifact], error) {
		if _, err := e.GetTask(input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(e.ListArtifacts(taskgraph.ArtifactFilter{TaskID: input.TaskID}))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/artifacts",
		Summary:     "List artifacts",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		TaskID    string `query:"task_id"`
		Status    string `query:"status" enum:"draft,pending,approved,rejected,superseded"`
	}) (*bodyOutput[[]domain.Artifact], error) {
		f := taskgraph.ArtifactFilter{TaskID: input.TaskID, Status: domain.ArtifactStatus(input.Status)}
		if input.ProjectID != "" {
			p, err := e.ResolveProject(input.ProjectID)
			if err != nil {
				return nil, handleError(err)
			}
			f.ProjectID = p.ID
		}
		return respond(nonNilSlice(e.ListArtifacts(f))), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/artifacts/{artifact_id}",
		Summary:     "Get artifact",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*bodyOutput[domain.Artifact], error) {
		a, err := e.GetArtifact(input.ArtifactID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-artifact-content",
		Method:      http.MethodPut,
		Path:        "/artifacts/{artifact_id}/content",
		Summary:     "Replace artifact content",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string                       `path:"artifact_id"`
		Body       UpdateArtifactContentRequest `json:"body"`
	}) (*bodyOutput[domain.Artifact], error) {
		a, err := e.UpdateArtifactContent(ctx, input.ArtifactID, input.Body.Content, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts/{artifact_id}/submit",
		Summary:     "Submit artifact for review",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*bodyOutput[domain.Artifact], error) {
		a, err := e.SubmitArtifact(ctx, input.ArtifactID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts/{artifact_id}/review",
		Summary:     "Approve or reject artifact",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string                `path:"artifact_id"`
		Body       ReviewArtifactRequest `json:"body"`
	}) (*bodyOutput[domain.Artifact], error) {
		approve := input.Body.Decision == "approve"
		a, err := e.ReviewArtifact(ctx, input.ArtifactID, approve, input.Body.Reviewer, input.Body.Comments)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "supersede-artifact",
		Method:      http.MethodPost,
		Path:        "/artifacts/{artifact_id}/supersede",
		Summary:     "Mark approved artifact superseded",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*bodyOutput[domain.Artifact], error) {
		a, err := e.SupersedeArtifact(ctx, input.ArtifactID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-artifact",
		Method:        http.MethodDelete,
		Path:          "/artifacts/{artifact_id}",
		Summary:       "Delete artifact",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ArtifactID string `path:"artifact_id"`
	}) (*struct{}, error) {
		if err := e.DeleteArtifact(ctx, input.ArtifactID, actorFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
