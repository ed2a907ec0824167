package flow

import "fmt"

// Patient-facing WhatsApp copy. All replies are Brazilian Portuguese.

const welcomeReply = `Olá! 😊 Bem-vindo(a) à nossa clínica odontológica!

Sou o assistente virtual e vou te ajudar a fazer uma simulação do seu novo sorriso!

Para começar, qual é o seu nome?`

const askNameAgainReply = `Por favor, me diga seu nome completo.`

const chooseTreatmentPromptReply = `Digite:
1️⃣ - Facetas Dentárias
2️⃣ - Clareamento Dental

(Envie apenas o número)`

const chooseOptionReply = `Por favor, escolha uma opção (1 ou 2).`

const invalidTreatmentReply = `Opção inválida. Por favor, digite 1 para Facetas ou 2 para Clareamento.`

const askPhotoReplyFormat = `Perfeito! Você escolheu: *%s* ✨

Agora preciso de uma foto do seu sorriso! 📸

*IMPORTANTE:*
✅ Tire a foto com boa iluminação
✅ Mostre bem os dentes
✅ Sorria naturalmente
✅ Foto de frente, sem filtros

Envie a foto quando estiver pronta! 🙂`

const needPhotoReply = `Por favor, envie uma *foto* do seu sorriso (não texto). 📸`

const photoReceivedReply = `Foto recebida! ✅

Estou processando sua simulação...
Isso pode levar de 30 segundos a 1 minuto.

Aguarde um momento! ⏳🦷✨`

const stillProcessingReply = `Estou processando sua simulação... Aguarde mais um pouco! ⏳`

const simulationDoneReply = `🎉 *Simulação concluída!*

O que você achou do resultado?

Digite:
1️⃣ - Gostei! Quero o orçamento
2️⃣ - Não gostei, fazer nova simulação

(Envie apenas o número)`

const invalidResultChoiceReply = `Opção inválida. Digite 1 se gostou ou 2 para nova simulação.`

const generatingBudgetReply = `Que ótimo! 😊

Vou gerar seu orçamento personalizado...
Aguarde alguns segundos! 📄💰`

const stillGeneratingBudgetReply = `Estou preparando seu orçamento... Aguarde mais um pouco! 📄`

const retrySimulationReply = `Sem problemas! 😊

Vamos fazer uma nova simulação.
Envie outra foto do seu sorriso! 📸`

const invalidApprovalReply = `Opção inválida. Digite 1 para agendar ou 2 para recusar.`

const scheduleAskDayReply = `Ótimo! 🎉

Vamos agendar sua consulta!

Nosso horário de atendimento:
📅 Segunda a Sábado
🕐 9h às 19h

*Qual dia você prefere?*
Envie no formato: DD/MM/AAAA
Exemplo: 15/12/2025`

const declinedReply = `Entendo! 😊

Obrigado pelo seu interesse!
Se mudar de ideia, é só me chamar novamente.

Até logo! 👋`

const scheduleConfirmedReply = `✅ *Agendamento confirmado!*

Você receberá uma confirmação em breve com todos os detalhes da consulta.

Nos vemos em breve! 😊🦷✨

Até logo! 👋`

const simulationFailedReply = `😔 Desculpe, ocorreu um erro ao processar sua simulação.

Por favor, tente enviar outra foto.`

const budgetFailedReply = `😔 Desculpe, ocorreu um erro ao gerar o orçamento.

Por favor, digite 1 para tentar novamente ou 2 para uma nova simulação.

Se o problema continuar, entre em contato conosco! 📞`

const beforeCaption = `📸 *ANTES* - Seu sorriso atual`

// greetingFollowup builds the reply after a valid name arrives.
func greetingFollowup(patientName string) string {
	return fmt.Sprintf(`Prazer em conhecer você, %s! 🤝

Agora me diga: qual tratamento você tem interesse?

%s`, patientName, chooseTreatmentPromptReply)
}

// afterCaption builds the caption for the processed image.
func afterCaption(treatmentShortName string) string {
	return fmt.Sprintf(`✨ *DEPOIS* - Simulação com %s`, treatmentShortName)
}
