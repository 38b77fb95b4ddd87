// Package auth cuida da fronteira de identidade do gateway: emitir e validar
// tokens HS256 e resolver o sujeito de uma request para o rate limit por
// usuário. Autorização fica no upstream.
package auth
