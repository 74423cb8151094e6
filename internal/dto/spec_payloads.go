package dto

// Per-type metadata shapes validated at admission. The whole bag is still
// passed through to the provider opaquely; these only gate what must be
// present for each job type.

type GenerationPayload struct {
	Prompt   string `json:"prompt" validate:"required"`
	ImageRef string `json:"image_ref" validate:"required,url"`
	Quality  string `json:"quality" validate:"required,oneof=draft standard high"`
}

type VariationPayload struct {
	SourceJobID string `json:"source_job_id" validate:"required"`
	Prompt      string `json:"prompt"`
	Quality     string `json:"quality" validate:"required,oneof=draft standard high"`
}

type UpscalePayload struct {
	SourceJobID string `json:"source_job_id" validate:"required"`
	Factor      int    `json:"factor" validate:"required,oneof=2 4"`
}

type BatchPayload struct {
	Prompt     string `json:"prompt" validate:"required"`
	ImageRef   string `json:"image_ref" validate:"required,url"`
	Quality    string `json:"quality" validate:"required,oneof=draft standard high"`
	BatchIndex int    `json:"batch_index" validate:"gte=0"`
	BatchSize  int    `json:"batch_size" validate:"required,gte=1,lte=20"`
}
