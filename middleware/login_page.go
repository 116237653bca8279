package middleware

import (
	"html/template"
	"net/http"
)

// loginPageTemplate renders the sign-in page. The Firebase web config comes
// from configuration; on success the page posts the ID token to the session
// exchange endpoint and reloads.
const loginPageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Sign in</title>
  <script src="https://www.gstatic.com/firebasejs/10.12.0/firebase-app-compat.js"></script>
  <script src="https://www.gstatic.com/firebasejs/10.12.0/firebase-auth-compat.js"></script>
  <script src="https://www.gstatic.com/firebasejs/ui/6.1.0/firebase-ui-auth.js"></script>
  <link rel="stylesheet" href="https://www.gstatic.com/firebasejs/ui/6.1.0/firebase-ui-auth.css">
</head>
<body>
  <h1>Sign in to the wiki</h1>
  <div id="firebaseui-auth-container"></div>
  <script>
    var config = {{.Config}};
    firebase.initializeApp(config);

    var ui = new firebaseui.auth.AuthUI(firebase.auth());
    ui.start('#firebaseui-auth-container', {
      signInOptions: [
        firebase.auth.GoogleAuthProvider.PROVIDER_ID,
        firebase.auth.EmailAuthProvider.PROVIDER_ID
      ],
      callbacks: {
        signInSuccessWithAuthResult: function(authResult) {
          authResult.user.getIdToken().then(function(idToken) {
            return fetch({{.LoginURL}}, {
              method: 'POST',
              headers: {'Content-Type': 'application/json'},
              body: JSON.stringify({idToken: idToken})
            });
          }).then(function(resp) {
            if (resp.ok) {
              window.location.reload();
            }
          });
          return false;
        }
      }
    });
  </script>
</body>
</html>
`

type loginPage struct {
	tmpl     *template.Template
	config   template.JS
	loginURL string
}

func newLoginPage(firebaseWebConfig, basePath string) *loginPage {
	return &loginPage{
		tmpl:     template.Must(template.New("login").Parse(loginPageTemplate)),
		config:   template.JS(firebaseWebConfig),
		loginURL: basePath + SessionLoginPath,
	}
}

func (p *loginPage) render(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = p.tmpl.Execute(w, map[string]interface{}{
		"Config":   p.config,
		"LoginURL": p.loginURL,
	})
}
