// Package commands dispatches detected clinical commands against the
// repository services and maps the created entity to an AggregatedAction
// for the Notification Hub.
package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/medinterp/internal/models"
	"github.com/yourusername/medinterp/internal/realtime/hub"
	"github.com/yourusername/medinterp/internal/repository"
)

// Result is the uniform shape returned after dispatching one detected command.
type Result struct {
	Status  string `json:"status"` // success, error, not_found
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Executor dispatches by toolName.
type Executor struct {
	notes         *repository.NoteRepository
	followUps     *repository.FollowUpRepository
	prescriptions *repository.PrescriptionRepository
	hub           *hub.Hub

	// OnRequestSummary / OnRequestMedicalHistory let the Coordinator wire in
	// its own summarization and history flows without commands importing
	// the coordinator package.
	OnRequestSummary        func(conversationID uuid.UUID)
	OnRequestMedicalHistory func(conversationID uuid.UUID)
}

func NewExecutor(notes *repository.NoteRepository, followUps *repository.FollowUpRepository, prescriptions *repository.PrescriptionRepository, h *hub.Hub) *Executor {
	return &Executor{notes: notes, followUps: followUps, prescriptions: prescriptions, hub: h}
}

var unitToDuration = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
}

// Execute dispatches toolName against conversationID with the given
// arguments and notifies the hub of any created action.
func (e *Executor) Execute(conversationID uuid.UUID, toolName string, args map[string]any) Result {
	switch toolName {
	case "take_note":
		return e.takeNote(conversationID, args)
	case "schedule_follow_up":
		return e.scheduleFollowUp(conversationID, args)
	case "write_prescription":
		return e.writePrescription(conversationID, args)
	case "request_summary":
		if e.OnRequestSummary != nil {
			e.OnRequestSummary(conversationID)
		}
		return Result{Status: "success", Name: toolName}
	case "request_medical_history":
		if e.OnRequestMedicalHistory != nil {
			e.OnRequestMedicalHistory(conversationID)
		}
		return Result{Status: "success", Name: toolName}
	default:
		return Result{Status: "not_found", Name: toolName, Message: fmt.Sprintf("unknown tool %q", toolName)}
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numberArg(args map[string]any, key string) (float64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func (e *Executor) takeNote(conversationID uuid.UUID, args map[string]any) Result {
	content, ok := stringArg(args, "note_content")
	if !ok || content == "" {
		return Result{Status: "error", Name: "take_note", Message: "note_content is required"}
	}

	note := &models.Note{ConversationID: conversationID, Text: content, Status: models.ActionConfirmed}
	if err := e.notes.Create(note); err != nil {
		return Result{Status: "error", Name: "take_note", Message: err.Error()}
	}

	action := noteToAction(note)
	e.hub.NotifyActionCreated(conversationID, action)
	return Result{Status: "success", Name: "take_note", Data: map[string]any{"note": note}}
}

func (e *Executor) scheduleFollowUp(conversationID uuid.UUID, args map[string]any) Result {
	duration, ok := numberArg(args, "duration")
	if !ok || duration <= 0 {
		return Result{Status: "error", Name: "schedule_follow_up", Message: "duration must be a positive number"}
	}
	unit, ok := stringArg(args, "unit")
	unitDur, unitOK := unitToDuration[unit]
	if !ok || !unitOK {
		return Result{Status: "error", Name: "schedule_follow_up", Message: "unit must be one of day, week, month"}
	}
	details, _ := stringArg(args, "details")

	scheduledFor := time.Now().Add(time.Duration(duration) * unitDur)
	followUp := &models.FollowUp{
		ConversationID: conversationID,
		Reason:         details,
		DueDate:        scheduledFor.UTC().Format("2006-01-02"),
		Status:         models.ActionPending,
	}
	if err := e.followUps.Create(followUp); err != nil {
		return Result{Status: "error", Name: "schedule_follow_up", Message: err.Error()}
	}

	action := followUpToAction(followUp)
	e.hub.NotifyActionCreated(conversationID, action)
	return Result{Status: "success", Name: "schedule_follow_up", Data: map[string]any{"followUp": followUp}}
}

func (e *Executor) writePrescription(conversationID uuid.UUID, args map[string]any) Result {
	medication, ok1 := stringArg(args, "medication_name")
	dosage, ok2 := stringArg(args, "dosage")
	frequency, ok3 := stringArg(args, "frequency")
	if !ok1 || !ok2 || !ok3 || medication == "" || dosage == "" || frequency == "" {
		return Result{Status: "error", Name: "write_prescription", Message: "medication_name, dosage, and frequency are required"}
	}

	prescription := &models.Prescription{
		ConversationID: conversationID,
		Medication:     medication,
		Dosage:         dosage,
		Frequency:      frequency,
		Status:         models.ActionPending,
	}
	if err := e.prescriptions.Create(prescription); err != nil {
		return Result{Status: "error", Name: "write_prescription", Message: err.Error()}
	}

	action := prescriptionToAction(prescription)
	e.hub.NotifyActionCreated(conversationID, action)
	return Result{Status: "success", Name: "write_prescription", Data: map[string]any{"prescription": prescription}}
}

func noteToAction(n *models.Note) models.AggregatedAction {
	return models.AggregatedAction{
		ID:             n.ID,
		ConversationID: n.ConversationID,
		Type:           models.ActionTypeNote,
		Status:         n.Status,
		CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      n.UpdatedAt.Format(time.RFC3339),
		Data:           map[string]string{"content": n.Text},
	}
}

func followUpToAction(f *models.FollowUp) models.AggregatedAction {
	return models.AggregatedAction{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		Type:           models.ActionTypeFollowUp,
		Status:         f.Status,
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      f.UpdatedAt.Format(time.RFC3339),
		Data:           map[string]string{"reason": f.Reason, "dueDate": f.DueDate},
	}
}

func prescriptionToAction(p *models.Prescription) models.AggregatedAction {
	return models.AggregatedAction{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		Type:           models.ActionTypePrescription,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      p.UpdatedAt.Format(time.RFC3339),
		Data: map[string]string{
			"medication": p.Medication,
			"dosage":     p.Dosage,
			"frequency":  p.Frequency,
		},
	}
}

// AggregateActions builds the full AggregatedAction projection for a
// conversation, sorted by createdAt.
func AggregateActions(notes []models.Note, followUps []models.FollowUp, prescriptions []models.Prescription) []models.AggregatedAction {
	actions := make([]models.AggregatedAction, 0, len(notes)+len(followUps)+len(prescriptions))
	for i := range notes {
		actions = append(actions, noteToAction(&notes[i]))
	}
	for i := range followUps {
		actions = append(actions, followUpToAction(&followUps[i]))
	}
	for i := range prescriptions {
		actions = append(actions, prescriptionToAction(&prescriptions[i]))
	}

	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j-1].CreatedAt > actions[j].CreatedAt; j-- {
			actions[j-1], actions[j] = actions[j], actions[j-1]
		}
	}
	return actions
}
