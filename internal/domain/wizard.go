package domain

// WizardStep is a stage of the import wizard.
type WizardStep int

const (
	StepUpload WizardStep = iota
	StepValidate
	StepMapColumns
	StepConfigureTimestamps
	StepAnimalDetails
	StepPreviewAndUpload
	StepComplete
)

var stepNames = map[WizardStep]string{
	StepUpload:              "upload",
	StepValidate:            "validate",
	StepMapColumns:          "map_columns",
	StepConfigureTimestamps: "configure_timestamps",
	StepAnimalDetails:       "animal_details",
	StepPreviewAndUpload:    "preview_and_upload",
	StepComplete:            "complete",
}

func (s WizardStep) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the step by name.
func (s WizardStep) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UploadStatus tracks the final write of a session.
type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)
