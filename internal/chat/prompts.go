package chat

import (
	"strings"

	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/memory"
)

const contextualizePrompt = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, " +
	"formulate a standalone question which can be understood " +
	"without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

const answerPrompt = "You are an assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer " +
	"the question. If you don't know the answer, say that you " +
	"don't know. Use three sentences maximum and keep the " +
	"answer concise." +
	"\n\n" +
	"{context}"

// contextualizeMessages asks the model to rewrite question as a standalone one.
func contextualizeMessages(history []memory.Turn, question string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: contextualizePrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleHuman, Content: question})
	return msgs
}

// answerMessages stuffs the retrieved chunks into the system prompt.
func answerMessages(chunks []string, history []memory.Turn, question string) []llm.Message {
	system := strings.Replace(answerPrompt, "{context}", strings.Join(chunks, "\n\n"), 1)

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleHuman, Content: question})
	return msgs
}
