package services

import (
	"context"
	"iter"
	"strings"

	"github.com/MegaGrindStone/promotor-copilot/internal/models"
)

// MockLLM answers with canned replies chosen by keyword. It lets the backend run without any model
// provider configured, for development and tests.
type MockLLM struct{}

const (
	mockDefaultReply = `Hola! Soy tu Copiloto EFEX. Estoy aqui para ayudarte a ser mas efectivo como promotor.

Puedo ayudarte con:
- Redactar mensajes para clientes
- Explicar productos y servicios de EFEX
- Preparar propuestas de venta
- Resolver dudas sobre procesos

**Nota:** Actualmente estoy en modo de desarrollo. Configura un proveedor de modelos para respuestas completas.

Como puedo ayudarte hoy?`

	mockClientReply = `Entiendo que quieres ayuda con un cliente. Aqui tienes algunas sugerencias:

1. **Para primer contacto**: Personaliza tu mensaje mencionando su industria
2. **Para seguimiento**: Ofrece valor antes de pedir algo
3. **Para cierre**: Enfocate en los beneficios especificos para su negocio

Quieres que te ayude a redactar un mensaje especifico?

*Nota: Modo desarrollo*`

	mockPricingReply = `Sobre comisiones de EFEX, recuerda estos puntos clave:

- Las tarifas son competitivas vs bancos tradicionales
- Hay beneficios por volumen de transacciones
- Las transferencias dentro de EFEX son gratuitas

Para detalles especificos, consulta la tabla de comisiones actualizada en tu portal.

*Nota: Modo desarrollo*`
)

// Chat replies to the last user message in messages.
func (MockLLM) Chat(_ context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var last string
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleUser {
				last = strings.ToLower(messages[i].Content)
				break
			}
		}

		switch {
		case strings.Contains(last, "cliente"), strings.Contains(last, "prospecto"):
			yield(mockClientReply, nil)
		case strings.Contains(last, "comision"), strings.Contains(last, "precio"), strings.Contains(last, "costo"):
			yield(mockPricingReply, nil)
		default:
			yield(mockDefaultReply, nil)
		}
	}
}

// GenerateTitle returns the message cut down to a title.
func (MockLLM) GenerateTitle(_ context.Context, message string) (string, error) {
	return models.TitleFromMessage(message), nil
}
