package entity

// HealthCheckResponse структура ответа для health check
type HealthCheckResponse struct {
	Status  bool                    `json:"status" example:"true"`
	Message string                  `json:"message" example:"success"`
	Version string                  `json:"version" example:"0.1.0"`
	Checks  HealthCheckResponseData `json:"checks"`
}

// HealthCheckResponseData детали проверок, отключенные компоненты не выводятся
type HealthCheckResponseData struct {
	Database HealthCheckItem  `json:"database"`
	Kafka    *HealthCheckItem `json:"kafka,omitempty"`
	Redis    *HealthCheckItem `json:"redis,omitempty"`
}

// HealthCheckItem информация о проверке компонента
type HealthCheckItem struct {
	Status bool   `json:"status" example:"true"`
	Type   string `json:"type" example:"postgresql"`
	Error  string `json:"error,omitempty" example:"Database connection failed"`
}

// Healthy - все подключенные компоненты доступны
func (d HealthCheckResponseData) Healthy() bool {
	if !d.Database.Status {
		return false
	}
	if d.Kafka != nil && !d.Kafka.Status {
		return false
	}
	if d.Redis != nil && !d.Redis.Status {
		return false
	}
	return true
}
