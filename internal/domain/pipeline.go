package domain

import "time"

// ExternalPipeline — pipeline, известный через репозиторий кода.
//
// Для запуска launcher нужен только образ контейнера,
// в котором лежит код pipeline.
type ExternalPipeline struct {
	// Name — уникальное имя pipeline.
	Name string `json:"name"`

	// Image — образ контейнера с кодом pipeline.
	Image string `json:"image"`

	// CreatedAt — время регистрации.
	CreatedAt time.Time `json:"created_at"`
}

// GetImage возвращает образ контейнера pipeline.
func (p *ExternalPipeline) GetImage() string {
	return p.Image
}
