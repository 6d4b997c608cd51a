package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Builder turns flat workflow payloads into persisted graphs. Every build or
// update runs in one transaction: either the whole graph is written or
// nothing is.
type Builder struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(gdb *gorm.DB, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{db: gdb, logger: logger}
}

// pendingBranch is a branch pointer waiting for its target to get an id.
type pendingBranch struct {
	model any
	key   string
	id    int64
	ref   PositionRef
}

// Build persists a new workflow. Questions are inserted in payload order
// with their branches left empty, then every PositionRef is resolved against
// the identifiers the first pass assigned.
func (b *Builder) Build(ctx context.Context, spec *WorkflowSpec) (*Workflow, error) {
	if spec == nil {
		return nil, invalid("workflow payload is required")
	}
	if err := spec.validateHeader(true); err != nil {
		return nil, err
	}
	if err := spec.validateQuestions(true); err != nil {
		return nil, err
	}

	wf := &Workflow{
		Name:         strings.TrimSpace(spec.Name),
		NameKey:      NormalizeName(spec.Name),
		IncidentType: strings.TrimSpace(spec.IncidentType),
	}
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNameFree(tx, wf.NameKey, 0); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(wf).Error; err != nil {
			return err
		}

		positions := make(positionMap, len(spec.Questions))
		var pending []pendingBranch
		for i, qs := range spec.Questions {
			q := newQuestion(wf.ID, qs)
			if err := tx.Omit(clause.Associations).Create(q).Error; err != nil {
				return err
			}
			positions[PositionRef(i+1)] = q.ID
			if qs.Next != nil {
				pending = append(pending, pendingBranch{model: &Question{}, key: "question_id", id: q.ID, ref: *qs.Next})
			}
			for _, os := range qs.Options {
				o := &Option{QuestionID: q.ID, Text: strings.TrimSpace(os.Text), IsCompleted: os.IsCompleted}
				if err := tx.Create(o).Error; err != nil {
					return err
				}
				if os.Next != nil {
					pending = append(pending, pendingBranch{model: &Option{}, key: "option_id", id: o.ID, ref: *os.Next})
				}
			}
		}
		return resolveBranches(tx, positions, pending)
	})
	if err != nil {
		return nil, translate("build workflow", err)
	}

	b.logger.Info("workflow built", "workflowID", wf.ID, "name", wf.Name, "questions", len(spec.Questions))
	return wf, nil
}

// Update mutates an existing workflow. Questions and options carrying a
// known identifier are updated in place; the rest are inserted. PositionRefs
// refer to positions in the payload. In merge mode a branch left out of the
// payload keeps its stored target and omitted rows survive; in replace mode
// omitted branches are cleared and omitted rows are deleted together with
// their answers.
func (b *Builder) Update(ctx context.Context, id int64, spec *WorkflowSpec, mode UpdateMode) (*Workflow, error) {
	if spec == nil {
		return nil, invalid("workflow payload is required")
	}
	if mode == "" {
		mode = UpdateMerge
	}
	if mode != UpdateMerge && mode != UpdateReplace {
		return nil, invalid("unknown update mode %q", mode)
	}
	if err := spec.validateHeader(false); err != nil {
		return nil, err
	}
	if err := spec.validateQuestions(mode == UpdateReplace); err != nil {
		return nil, err
	}

	var wf Workflow
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&wf, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("workflow %d", id)
			}
			return err
		}

		header := map[string]any{"updated_at": time.Now()}
		if name := strings.TrimSpace(spec.Name); name != "" && name != wf.Name {
			key := NormalizeName(name)
			if key != wf.NameKey {
				if err := ensureNameFree(tx, key, wf.ID); err != nil {
					return err
				}
			}
			header["workflow_name"] = name
			header["workflow_name_key"] = key
		}
		if it := strings.TrimSpace(spec.IncidentType); it != "" {
			header["incident_type"] = it
		}
		if err := tx.Model(&Workflow{}).Where("workflow_id = ?", wf.ID).Updates(header).Error; err != nil {
			return err
		}

		var existing []Question
		if err := tx.Preload("Options").Where("workflow_id = ?", wf.ID).Find(&existing).Error; err != nil {
			return err
		}
		byID := make(map[int64]*Question, len(existing))
		for i := range existing {
			byID[existing[i].ID] = &existing[i]
		}

		positions := make(positionMap, len(spec.Questions))
		keptQuestions := mapset.NewThreadUnsafeSet[int64]()
		keptOptions := mapset.NewThreadUnsafeSet[int64]()
		var pending []pendingBranch

		for i, qs := range spec.Questions {
			where := i + 1
			var cur *Question
			if qs.ID != nil {
				cur = byID[*qs.ID]
			}

			var qid int64
			if cur != nil {
				fields := map[string]any{
					"question_text": strings.TrimSpace(qs.Text),
					"question_type": qs.Type,
					"is_required":   qs.IsRequired(),
					"is_completed":  qs.IsCompleted,
					"updated_at":    time.Now(),
				}
				if !qs.Type.Branches() || (qs.Next == nil && mode == UpdateReplace) {
					fields["next_question_id"] = nil
				}
				if err := tx.Model(&Question{}).Where("question_id = ?", cur.ID).Updates(fields).Error; err != nil {
					return err
				}
				qid = cur.ID
				if !qs.Type.HasOptions() && len(cur.Options) > 0 {
					if err := tx.Where("question_id = ?", cur.ID).Delete(&Option{}).Error; err != nil {
						return err
					}
				}
			} else {
				q := newQuestion(wf.ID, qs)
				if err := tx.Omit(clause.Associations).Create(q).Error; err != nil {
					return err
				}
				qid = q.ID
			}
			keptQuestions.Add(qid)
			positions[PositionRef(where)] = qid
			if qs.Next != nil && qs.Type.Branches() {
				pending = append(pending, pendingBranch{model: &Question{}, key: "question_id", id: qid, ref: *qs.Next})
			}

			if !qs.Type.HasOptions() {
				continue
			}
			stored := make(map[int64]bool)
			if cur != nil && cur.Type.HasOptions() {
				for _, o := range cur.Options {
					stored[o.ID] = true
				}
			}
			touched := 0
			for _, os := range qs.Options {
				var oid int64
				if os.ID != nil && stored[*os.ID] {
					fields := map[string]any{
						"option_text":  strings.TrimSpace(os.Text),
						"is_completed": os.IsCompleted,
					}
					if os.Next == nil && mode == UpdateReplace {
						fields["next_question_id"] = nil
					}
					if err := tx.Model(&Option{}).Where("option_id = ?", *os.ID).Updates(fields).Error; err != nil {
						return err
					}
					oid = *os.ID
					touched++
				} else {
					o := &Option{QuestionID: qid, Text: strings.TrimSpace(os.Text), IsCompleted: os.IsCompleted}
					if err := tx.Create(o).Error; err != nil {
						return err
					}
					oid = o.ID
				}
				keptOptions.Add(oid)
				if os.Next != nil {
					pending = append(pending, pendingBranch{model: &Option{}, key: "option_id", id: oid, ref: *os.Next})
				}
			}

			total := len(qs.Options)
			if mode == UpdateMerge {
				total += len(stored) - touched
			} else {
				var drop []int64
				for oid := range stored {
					if !keptOptions.Contains(oid) {
						drop = append(drop, oid)
					}
				}
				if len(drop) > 0 {
					if err := tx.Where("option_id IN ?", drop).Delete(&Option{}).Error; err != nil {
						return err
					}
				}
			}
			if total == 0 {
				return invalid("question %d: %s question needs at least one option", where, qs.Type)
			}
		}

		if mode == UpdateReplace {
			var removed []int64
			for _, q := range existing {
				if !keptQuestions.Contains(q.ID) {
					removed = append(removed, q.ID)
				}
			}
			if err := removeQuestions(tx, wf.ID, removed); err != nil {
				return err
			}
		}
		return resolveBranches(tx, positions, pending)
	})
	if err != nil {
		return nil, translate("update workflow", err)
	}

	if err := b.db.WithContext(ctx).Take(&wf, id).Error; err != nil {
		return nil, storageErr("reload workflow", err)
	}
	b.logger.Info("workflow updated", "workflowID", wf.ID, "mode", string(mode), "questions", len(spec.Questions))
	return &wf, nil
}

// removeQuestions deletes questions of a workflow and clears every branch
// that pointed at them.
func removeQuestions(tx *gorm.DB, workflowID int64, qids []int64) error {
	if len(qids) == 0 {
		return nil
	}
	if err := deleteQuestions(tx, qids); err != nil {
		return err
	}
	if err := tx.Model(&Question{}).
		Where("workflow_id = ? AND next_question_id IN ?", workflowID, qids).
		Update("next_question_id", nil).Error; err != nil {
		return err
	}
	owned := tx.Model(&Question{}).Select("question_id").Where("workflow_id = ?", workflowID)
	return tx.Model(&Option{}).
		Where("question_id IN (?) AND next_question_id IN ?", owned, qids).
		Update("next_question_id", nil).Error
}

func resolveBranches(tx *gorm.DB, positions positionMap, pending []pendingBranch) error {
	for _, p := range pending {
		target, ok := positions.resolve(p.ref)
		if !ok {
			return invalid("next_question_id %d does not name a question in the payload", p.ref)
		}
		if err := tx.Model(p.model).Where(p.key+" = ?", p.id).Update("next_question_id", target).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureNameFree(tx *gorm.DB, key string, exceptID int64) error {
	var n int64
	q := tx.Model(&Workflow{}).Where("workflow_name_key = ?", key)
	if exceptID != 0 {
		q = q.Where("workflow_id <> ?", exceptID)
	}
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return conflict("workflow name %q is already in use", key)
	}
	return nil
}

func newQuestion(workflowID int64, qs QuestionSpec) *Question {
	return &Question{
		WorkflowID:  workflowID,
		Text:        strings.TrimSpace(qs.Text),
		Type:        qs.Type,
		Required:    qs.IsRequired(),
		IsCompleted: qs.IsCompleted,
	}
}
