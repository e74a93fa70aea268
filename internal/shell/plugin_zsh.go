package shell

// ZshPlugin installs a preexec hook that logs each command with an epoch
// timestamp while a termctx session is running.
const ZshPlugin = `# termctx shell plugin, generated by "termctx hook install zsh"
# Source this file from your ~/.zshrc:
#   source ~/.config/termctx/termctx.plugin.zsh

_termctx_dir="${XDG_DATA_HOME:-$HOME/.local/share}/termctx"

_termctx_preexec() {
  # Only log while a session is running.
  [[ -f "$_termctx_dir/session.json" ]] || return
  local cmd="$1"
  [[ "$cmd" =~ '^[[:space:]]*(.*/)?termctx([[:space:]]|$)' ]] && return
  printf '%s\t%s\n' "$(date +%s)" "${cmd//$'\n'/ }" >> "$_termctx_dir/commands.log"
}

autoload -Uz add-zsh-hook
add-zsh-hook preexec _termctx_preexec
`
