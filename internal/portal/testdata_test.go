package portal

const loginPageHTML = `<html><body>
<h2>Login to Your Account</h2>
<form>
	<input id="username" name="username">
	<select id="dd" name="dd"><option value="01 ">01</option><option value="10 ">10</option></select>
	<select id="mm" name="mm"><option value="03">03</option></select>
	<select id="yyyy" name="yyyy"><option value="2006">2006</option></select>
	<button class="cn-login-btn" type="submit">Login</button>
</form>
</body></html>`

const dashboardHTML = `<html><body>
<div class="sidebar">
	<a href="index.php?option=com_studentdashboard&task=ciedetails&cid=101">Engineering Mathematics</a>
	<a href="index.php?option=com_studentdashboard&task=ciedetails&cid=102">Applied Physics</a>
	<a href="index.php?option=com_studentdashboard&task=ciedetails&cid=101">Engineering Mathematics</a>
	<a href="index.php?option=com_studentdashboard&task=profile">Profile</a>
</div>
</body></html>`

const emptyDashboardHTML = `<html><body><div class="sidebar">Loading...</div></body></html>`

const subjectPageHTML = `<html><body>
<table>
	<caption>Engineering Mathematics (25BSC12CE05)</caption>
	<tr><th>Assessment</th><th>Marks</th></tr>
	<tr><td>ISE 1</td><td>18 / 20</td></tr>
	<tr><td>MSE</td><td>25.5/30</td></tr>
	<tr><td>ESE</td><td>41 / 50</td></tr>
</table>
<table>
	<tr><td>Attendance</td><td>30 / 32</td></tr>
</table>
</body></html>`
