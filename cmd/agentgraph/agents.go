package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentgraph/internal/app"
	"agentgraph/internal/domain"
	"agentgraph/internal/ledger"
	"agentgraph/internal/relgraph"
)

func relCmd() *cobra.Command {
	rel := &cobra.Command{
		Use:     "rel",
		Aliases: []string{"relationship"},
		Short:   "Manage agent relationships",
		Long:    "Relationships are directed edges between agents. Each carries a policy (authority delta, direction, auto approval, per-workflow limit, conditions) checked when interactions reference it.",
	}
	rel.AddCommand(relCreateCmd())
	rel.AddCommand(relListCmd())
	rel.AddCommand(relFindCmd())
	rel.AddCommand(relGetCmd())
	rel.AddCommand(relPolicyCmd())
	rel.AddCommand(relDeleteCmd())
	return rel
}

func relCreateCmd() *cobra.Command {
	var in relgraph.EdgeInput
	var typ string
	var authority, maxPerWorkflow int
	var bidirectional, autoApproval bool
	var strength float64
	cmd := &cobra.Command{
		Use:   "create <source-agent> <target-agent>",
		Short: "Create a relationship edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.SourceAgentID, in.TargetAgentID = args[0], args[1]
			in.Type = domain.RelationshipType(typ)
			in.AuthorityDelta = optionalInt(cmd, "authority", authority)
			in.MaxInteractionsPerWorkflow = optionalInt(cmd, "max-per-workflow", maxPerWorkflow)
			if cmd.Flags().Changed("bidirectional") {
				in.Bidirectional = &bidirectional
			}
			if cmd.Flags().Changed("auto-approval") {
				in.AutoApproval = &autoApproval
			}
			if cmd.Flags().Changed("strength") {
				in.Strength = &strength
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				edge, err := a.Engine.CreateRelationship(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "delegation, collaboration, review, escalation, consultation, dependency or supervision")
	cmd.Flags().IntVar(&authority, "authority", 0, "authority delta (-5..5, defaults per type)")
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "allow interactions in both directions")
	cmd.Flags().BoolVar(&autoApproval, "auto-approval", false, "auto approve interactions")
	cmd.Flags().IntVar(&maxPerWorkflow, "max-per-workflow", 0, "max interactions per workflow")
	cmd.Flags().StringVar(&in.Label, "label", "", "label")
	cmd.Flags().Float64Var(&strength, "strength", 0, "strength (0..1)")
	cmd.Flags().IntVar(&in.Priority, "priority", 0, "priority")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func printEdges(edges []domain.RelationshipEdge) error {
	if viper.GetBool("json") {
		return printJSON(edges)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Source", "Target", "Type", "Authority", "Bidirectional", "OK/Failed"})
	for _, e := range edges {
		tw.AppendRow(table.Row{e.ID, e.SourceAgentID, e.TargetAgentID, e.Type, e.AuthorityDelta, e.Bidirectional,
			fmt.Sprintf("%d/%d", e.Metrics.SuccessfulInteractions, e.Metrics.FailedInteractions)})
	}
	tw.Render()
	return nil
}

func relListCmd() *cobra.Command {
	var f relgraph.EdgeFilter
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List relationship edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Type = domain.RelationshipType(typ)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printEdges(a.Engine.ListRelationships(f))
			})
		},
	}
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "agent on either end")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	return cmd
}

func relFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <initiator> <target>",
		Short: "Edges allowing initiator to reach target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printEdges(a.Engine.FindRelationships(args[0], args[1]))
			})
		},
	}
}

func relGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get relationship edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				edge, err := a.Engine.GetRelationship(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
}

func relPolicyCmd() *cobra.Command {
	var authority, maxPerWorkflow, priority int
	var bidirectional, autoApproval bool
	var label string
	var strength float64
	cmd := &cobra.Command{
		Use:   "policy <id>",
		Short: "Update relationship policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := relgraph.PolicyPatch{
				AuthorityDelta:             optionalInt(cmd, "authority", authority),
				MaxInteractionsPerWorkflow: optionalInt(cmd, "max-per-workflow", maxPerWorkflow),
				Priority:                   optionalInt(cmd, "priority", priority),
				Label:                      optionalString(cmd, "label", label),
			}
			if cmd.Flags().Changed("bidirectional") {
				patch.Bidirectional = &bidirectional
			}
			if cmd.Flags().Changed("auto-approval") {
				patch.AutoApproval = &autoApproval
			}
			if cmd.Flags().Changed("strength") {
				patch.Strength = &strength
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				edge, err := a.Engine.UpdateRelationshipPolicy(ctx, args[0], patch, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(edge)
			})
		},
	}
	cmd.Flags().IntVar(&authority, "authority", 0, "authority delta (-5..5)")
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "allow interactions in both directions")
	cmd.Flags().BoolVar(&autoApproval, "auto-approval", false, "auto approve interactions")
	cmd.Flags().IntVar(&maxPerWorkflow, "max-per-workflow", 0, "max interactions per workflow (0 removes the limit)")
	cmd.Flags().StringVar(&label, "label", "", "label")
	cmd.Flags().Float64Var(&strength, "strength", 0, "strength (0..1)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	return cmd
}

func relDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete relationship edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteRelationship(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func interactionCmd() *cobra.Command {
	it := &cobra.Command{
		Use:     "interaction",
		Aliases: []string{"it"},
		Short:   "Record and query agent interactions",
		Long:    "Interactions move pending -> in_progress -> completed or failed; cancelled and timeout are exits and failed or timed out interactions can be retried.",
	}
	it.AddCommand(interactionCreateCmd())
	it.AddCommand(interactionListCmd())
	it.AddCommand(interactionGetCmd())
	it.AddCommand(interactionChainCmd())
	it.AddCommand(interactionActionCmd("start", "Start an interaction"))
	it.AddCommand(interactionActionCmd("cancel", "Cancel an interaction"))
	it.AddCommand(interactionActionCmd("timeout", "Mark an interaction timed out"))
	it.AddCommand(interactionActionCmd("retry", "Retry a failed or timed out interaction"))
	it.AddCommand(interactionOutcomeCmd(true))
	it.AddCommand(interactionOutcomeCmd(false))
	it.AddCommand(interactionInterveneCmd())
	it.AddCommand(workflowDeleteCmd())
	return it
}

func interactionCreateCmd() *cobra.Command {
	var in ledger.CreateInput
	var typ string
	cmd := &cobra.Command{
		Use:   "create <initiator> <target>",
		Short: "Record a new interaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.InitiatorAgentID, in.TargetAgentID = args[0], args[1]
			in.Type = domain.InteractionType(typ)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.CreateInteraction(ctx, in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&typ, "type", "", "interaction type (task_assignment, review_request, handoff, ...)")
	cmd.Flags().StringVar(&in.TaskID, "task", "", "related task id")
	cmd.Flags().StringVar(&in.RelationshipID, "relationship", "", "relationship edge id")
	cmd.Flags().StringVar(&in.ParentInteractionID, "parent", "", "parent interaction id")
	cmd.Flags().IntVar(&in.Priority, "priority", 0, "priority 1..5 (default 3)")
	cmd.Flags().StringVar(&in.Message, "message", "", "message")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func interactionListCmd() *cobra.Command {
	var f ledger.Filter
	var typ, status, since, until string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Query interactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Type = domain.InteractionType(typ)
			f.Status = domain.InteractionStatus(status)
			var err error
			if f.From, err = parseFlagTime("since", since); err != nil {
				return err
			}
			if f.To, err = parseFlagTime("until", until); err != nil {
				return err
			}
			if cmd.Flags().Changed("intervened") {
				v, _ := cmd.Flags().GetBool("intervened")
				f.HasUserIntervention = &v
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items := a.Engine.ListInteractions(f)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workflow", "From", "To", "Type", "Status", "Duration (ms)"})
				for _, it := range items {
					dur := ""
					if it.DurationMs != nil {
						dur = fmt.Sprint(*it.DurationMs)
					}
					tw.AppendRow(table.Row{it.ID, it.WorkflowID, it.InitiatorAgentID, it.TargetAgentID, it.Type, it.Status, dur})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "initiator or target filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&since, "since", "", "created at or after (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "created at or before (RFC3339)")
	cmd.Flags().Bool("intervened", false, "only interactions with (or, =false, without) user interventions")
	return cmd
}

func parseFlagTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}

func interactionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.GetInteraction(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func interactionChainCmd() *cobra.Command {
	var children bool
	cmd := &cobra.Command{
		Use:   "chain <id>",
		Short: "Show ancestors (or direct children) of an interaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var items []domain.Interaction
				var err error
				if children {
					items, err = a.Engine.InteractionChildren(args[0])
				} else {
					items, err = a.Engine.InteractionChain(args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for i, it := range items {
					fmt.Printf("%*s%s %s -> %s [%s] %s\n", i*2, "", it.ID, it.InitiatorAgentID, it.TargetAgentID, it.Type, it.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&children, "children", false, "list direct children instead")
	return cmd
}

func interactionActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fns := map[string]func(context.Context, string, string) (domain.Interaction, error){
					"start":   a.Engine.StartInteraction,
					"cancel":  a.Engine.CancelInteraction,
					"timeout": a.Engine.TimeoutInteraction,
					"retry":   a.Engine.RetryInteraction,
				}
				it, err := fns[action](ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func interactionOutcomeCmd(success bool) *cobra.Command {
	var text string
	var usage domain.TokenUsage
	use, short, flag := "complete <id>", "Complete an interaction", "response"
	if !success {
		use, short, flag = "fail <id>", "Fail an interaction", "error"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var it domain.Interaction
				var err error
				if success {
					it, err = a.Engine.CompleteInteraction(ctx, args[0], text, usage, actorID())
				} else {
					it, err = a.Engine.FailInteraction(ctx, args[0], text, usage, actorID())
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&text, flag, "", flag+" text")
	cmd.Flags().Int64Var(&usage.Prompt, "prompt-tokens", 0, "prompt tokens")
	cmd.Flags().Int64Var(&usage.Completion, "completion-tokens", 0, "completion tokens")
	cmd.Flags().Int64Var(&usage.Total, "total-tokens", 0, "total tokens (defaults to prompt + completion)")
	cmd.Flags().Int64Var(&usage.CostCents, "cost-cents", 0, "cost in cents")
	return cmd
}

func interactionInterveneCmd() *cobra.Command {
	var in ledger.InterventionInput
	cmd := &cobra.Command{
		Use:   "intervene <id>",
		Short: "Record a user intervention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				it, err := a.Engine.AddUserIntervention(ctx, args[0], in, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&in.Type, "type", "guidance", "intervention type")
	cmd.Flags().StringVar(&in.Message, "message", "", "message")
	cmd.Flags().StringVar(&in.Urgency, "urgency", "normal", "low, normal, high or critical")
	cmd.Flags().BoolVar(&in.PausedExecution, "paused", false, "execution was paused")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func workflowDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-workflow <workflow-id>",
		Short: "Delete every interaction of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ids, err := a.Engine.DeleteWorkflow(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workflow_id": args[0], "deleted": ids})
				}
				fmt.Printf("deleted %d interactions from workflow %s\n", len(ids), args[0])
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	st := &cobra.Command{Use: "stats", Short: "Show statistics"}
	st.AddCommand(&cobra.Command{
		Use:   "project [id|slug]",
		Short: "Project statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := currentProject(a, firstArg(args))
				if err != nil {
					return err
				}
				s, err := a.Engine.ProjectStats(p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	var workflowID string
	interactions := &cobra.Command{
		Use:   "interactions",
		Short: "Interaction statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Engine.InteractionStats(workflowID))
			})
		},
	}
	interactions.Flags().StringVar(&workflowID, "workflow", "", "limit to one workflow")
	st.AddCommand(interactions)
	st.AddCommand(&cobra.Command{
		Use:   "agent <agent-id>",
		Short: "Agent statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Engine.AgentStats(args[0]))
			})
		},
	})
	return st
}
