package telegram

import (
	"context"
	"errors"
)

// A stepFunc consumes one input while the user is at a given step and
// returns the step to move to. Returning the current step re-prompts;
// returning StepIdle ends the dialogue.
type stepFunc func(h *UpdateHandler, ctx context.Context, in *Input, s *Session) (Step, error)

// entryFunc starts a dialogue (or answers in one shot) from a fresh session.
type entryFunc func(ctx context.Context, in *Input, s *Session) (Step, error)

var (
	// errPass means the current step does not consume this input and global
	// routing should handle it instead.
	errPass = errors.New("input not consumed by step")
	// errSessionExpired means the scratch data the step relies on is gone.
	errSessionExpired = errors.New("session expired")
)

func stepTable() map[Step]stepFunc {
	return map[Step]stepFunc{
		StepRegName:  (*UpdateHandler).onRegName,
		StepRegPhone: (*UpdateHandler).onRegPhone,
		StepRegRole:  (*UpdateHandler).onRegRole,
		StepRegOrg:   (*UpdateHandler).onRegOrg,

		StepProjTitle:       (*UpdateHandler).onProjTitle,
		StepProjDescription: (*UpdateHandler).onProjDescription,
		StepProjCity:        (*UpdateHandler).onProjCity,
		StepProjTags:        (*UpdateHandler).onProjTags,

		StepTaskProject:    (*UpdateHandler).onTaskProject,
		StepTaskRecipients: (*UpdateHandler).onTaskRecipients,
		StepTaskPickOne:    (*UpdateHandler).onTaskPickOne,
		StepTaskPickMany:   (*UpdateHandler).onTaskPickMany,
		StepTaskText:       (*UpdateHandler).onTaskText,
		StepTaskYear:       (*UpdateHandler).onTaskYear,
		StepTaskMonth:      (*UpdateHandler).onTaskMonth,
		StepTaskDay:        (*UpdateHandler).onTaskDay,
		StepTaskStartHour:  (*UpdateHandler).onTaskStartHour,
		StepTaskEndHour:    (*UpdateHandler).onTaskEndHour,
		StepTaskPhoto:      (*UpdateHandler).onTaskPhoto,
		StepTaskConfirm:    (*UpdateHandler).onTaskConfirm,

		StepBrowseProjects: (*UpdateHandler).onBrowseProjects,
		StepLeavePick:      (*UpdateHandler).onLeavePick,

		StepCompleteConfirm: (*UpdateHandler).onCompleteConfirm,
		StepProofPhoto:      (*UpdateHandler).onProofPhoto,

		StepModBrowse: (*UpdateHandler).onModBrowse,
		StepModRate:   (*UpdateHandler).onModRate,
	}
}

// transitions lists, per step, the steps it may move forward to. Staying
// put and going back to idle are always allowed.
var transitions = map[Step][]Step{
	StepIdle: {
		StepRegName, StepProjTitle, StepTaskProject, StepBrowseProjects,
		StepLeavePick, StepCompleteConfirm, StepProofPhoto, StepModBrowse,
	},

	StepRegName:  {StepRegPhone},
	StepRegPhone: {StepRegRole},
	StepRegRole:  {StepRegOrg},
	StepRegOrg:   nil,

	StepProjTitle:       {StepProjDescription},
	StepProjDescription: {StepProjCity},
	StepProjCity:        {StepProjTags},
	StepProjTags:        nil,

	StepTaskProject:    {StepTaskRecipients},
	StepTaskRecipients: {StepTaskPickOne, StepTaskPickMany, StepTaskText},
	StepTaskPickOne:    {StepTaskText},
	StepTaskPickMany:   {StepTaskText},
	StepTaskText:       {StepTaskYear},
	StepTaskYear:       {StepTaskMonth},
	StepTaskMonth:      {StepTaskDay},
	StepTaskDay:        {StepTaskStartHour},
	StepTaskStartHour:  {StepTaskEndHour},
	StepTaskEndHour:    {StepTaskPhoto},
	StepTaskPhoto:      {StepTaskConfirm},
	StepTaskConfirm:    nil,

	StepBrowseProjects: nil,
	StepLeavePick:      nil,

	StepCompleteConfirm: {StepProofPhoto},
	StepProofPhoto:      nil,

	StepModBrowse: {StepModRate},
	StepModRate:   {StepModBrowse},
}

func canTransition(from, to Step) bool {
	if to == from || to == StepIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Step) isTaskAuthoring() bool {
	switch s {
	case StepTaskProject, StepTaskRecipients, StepTaskPickOne, StepTaskPickMany, StepTaskText,
		StepTaskYear, StepTaskMonth, StepTaskDay, StepTaskStartHour, StepTaskEndHour,
		StepTaskPhoto, StepTaskConfirm:
		return true
	}
	return false
}
