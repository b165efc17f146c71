package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"poolcore/internal/client"
	"poolcore/internal/definitions"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

// Script is a scripted edit session against one collection.
//
//	kind: consumables
//	parent: 0b6c...
//	steps:
//	  - create: {name: Chlorine, unit: gal}
//	  - update: {match: {name: Chlorine}, set: {price: 4.5}}
//	  - delete: {name: Acid}
//	  - move: {from: 1, to: 0}
type Script struct {
	Kind   string `yaml:"kind"`
	Parent string `yaml:"parent"`
	Steps  []Step `yaml:"steps"`
}

// Step is one edit. Exactly one field is set.
type Step struct {
	Create map[string]any `yaml:"create,omitempty"`
	Update *UpdateStep    `yaml:"update,omitempty"`
	Delete map[string]any `yaml:"delete,omitempty"`
	Move   *MoveStep      `yaml:"move,omitempty"`
}

// UpdateStep patches the item matching Match with Set.
type UpdateStep struct {
	Match map[string]any `yaml:"match"`
	Set   map[string]any `yaml:"set"`
	Order *int           `yaml:"order,omitempty"`
}

// MoveStep moves the item at From to To.
type MoveStep struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

var errAmbiguousStep = errors.New("step must set exactly one of create, update, delete, move")

func loadScript(r io.Reader) (Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	return s, nil
}

func newApplyCmd(a *app) *cobra.Command {
	var (
		yes    bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "apply <script.yaml|->",
		Short: "Replay a scripted edit session and save it as one batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			var src io.Reader = in
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			script, err := loadScript(src)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			confirm := reconcile.ConfirmFunc(reconcile.Confirmed)
			if !yes {
				if args[0] == "-" {
					return errors.New("reading the script from stdin needs --yes")
				}
				confirm = prompt(in, cmd.OutOrStdout())
			}
			return runScript(cmd.Context(), c, a.logger, script, cmd.OutOrStdout(), dryRun, confirm)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "save without asking")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the batch without saving")
	return cmd
}

func runScript(ctx context.Context, c *client.Client, logger *zap.Logger, script Script, out io.Writer, dryRun bool, confirm reconcile.ConfirmFunc) error {
	kind, parentID, err := parseTarget([]string{script.Kind, script.Parent})
	if err != nil {
		return err
	}
	editor, err := definitions.NewFieldsManager(c, kind, reconcile.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := editor.Load(ctx, parentID); err != nil {
		return err
	}
	for i, step := range script.Steps {
		if err := applyStep(editor.Collection, step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	plan := editor.Plan()
	summary := plan.Summary()
	fmt.Fprintf(out, "%s: %s\n", kind, summary)
	if dryRun || plan.IsEmpty() {
		if err := write(out, formatJSON, plan); err != nil {
			return err
		}
		return editor.Discard()
	}
	if _, err := editor.Submit(ctx, confirm); err != nil {
		if errors.Is(err, reconcile.ErrNotConfirmed) {
			fmt.Fprintln(out, "nothing saved")
			return nil
		}
		return err
	}
	fmt.Fprintf(out, "saved %d items\n", len(editor.Items()))
	return nil
}

func applyStep(coll *reconcile.Collection[domain.Fields], step Step) error {
	set := 0
	for _, present := range []bool{step.Create != nil, step.Update != nil, step.Delete != nil, step.Move != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return errAmbiguousStep
	}
	switch {
	case step.Create != nil:
		_, err := coll.Create(domain.Fields(step.Create).Clone().StripReserved())
		return err
	case step.Update != nil:
		id, err := match(coll, step.Update.Match)
		if err != nil {
			return err
		}
		patch := reconcile.FieldPatch(step.Update.Set)
		patch.Order = step.Update.Order
		return coll.Update(id, patch)
	case step.Delete != nil:
		id, err := match(coll, step.Delete)
		if err != nil {
			return err
		}
		return coll.Delete(id)
	default:
		return coll.Reorder(step.Move.From, step.Move.To)
	}
}

// match finds the single mirror item whose fields equal every entry of
// want. An "id" entry matches the item id.
func match(coll *reconcile.Collection[domain.Fields], want map[string]any) (reconcile.ID, error) {
	if len(want) == 0 {
		return reconcile.ID{}, errors.New("empty match")
	}
	var found []reconcile.ID
	for _, item := range coll.Items() {
		if matches(item, want) {
			found = append(found, item.ID)
		}
	}
	switch len(found) {
	case 0:
		return reconcile.ID{}, fmt.Errorf("no item matches %v", want)
	case 1:
		return found[0], nil
	default:
		return reconcile.ID{}, fmt.Errorf("%d items match %v", len(found), want)
	}
}

func matches(item reconcile.Item[domain.Fields], want map[string]any) bool {
	for k, v := range want {
		if k == domain.FieldID {
			if fmt.Sprint(v) != item.ID.Value() && fmt.Sprint(v) != item.ID.String() {
				return false
			}
			continue
		}
		got, ok := item.Fields[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func prompt(in io.Reader, out io.Writer) reconcile.ConfirmFunc {
	return func(s reconcile.Summary) bool {
		if s.Structural() {
			fmt.Fprintln(out, "This changes the template structure. Other open sessions will be signed out and upcoming visits rescheduled.")
		}
		fmt.Fprintf(out, "Save %s? [y/N] ", s)
		line, _ := bufio.NewReader(in).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
